// Command domcapture opens a page in Chrome, lets the operator pick elements
// and exports them into a capture directory.
//
// Usage:
//
//	domcapture [pick] [flags] [url]            # interactive pick session
//	domcapture serve -dir capture_20260101_120000  # viewer + HTTP bridge
//	domcapture check -profile sample -html page.html
//	domcapture mcp                             # bridge operations over MCP stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domcapture"
	"github.com/hazyhaar/domcapture/bridge"
	"github.com/hazyhaar/domcapture/internal/shield"
	"github.com/hazyhaar/domcapture/profile"
	"github.com/hazyhaar/domcapture/selection"
	"github.com/hazyhaar/domcapture/selector"
)

var version = "dev"

func main() {
	cmd, args := splitCommand(os.Args[1:])

	var err error
	switch cmd {
	case "pick":
		err = cmdPick(args)
	case "serve":
		err = cmdServe(args)
	case "check":
		err = cmdCheck(args, os.Stdout)
	case "mcp":
		err = cmdMCP(args)
	case "help":
		printUsage(os.Stdout)
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "domcapture %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// splitCommand returns the subcommand and its arguments. Anything that is
// not a known subcommand runs a pick session.
func splitCommand(args []string) (string, []string) {
	if len(args) > 0 {
		switch args[0] {
		case "pick", "serve", "check", "mcp":
			return args[0], args[1:]
		case "help", "-h", "-help", "--help":
			return "help", nil
		}
	}
	return "pick", args
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `domcapture: pick elements on a web page and export them

usage:
  domcapture [pick] [flags] [url]
  domcapture serve  [-dir capture_dir] [-addr host:port]
  domcapture check  -profile name -html snapshot.html
  domcapture mcp

Run "domcapture <command> -h" for the flags of a command.
`)
}

// common holds the flags every command accepts.
type common struct {
	configPath string
	logLevel   string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to domcapture.yaml config file")
	fs.StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func (c *common) load() (*domcapture.Config, *slog.Logger, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(c.logLevel)}))
	slog.SetDefault(logger)
	if c.configPath == "" {
		return domcapture.DefaultConfig(), logger, nil
	}
	cfg, err := domcapture.LoadConfigFile(c.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore opens the configured profile backend and seeds it on first use.
func openStore(ctx context.Context, cfg *domcapture.Config, logger *slog.Logger) (profile.Store, func(), error) {
	var (
		store   profile.Store
		closeFn = func() {}
	)
	switch cfg.Profiles.Backend {
	case "file":
		store = profile.NewFileStore(cfg.Profiles.Dir)
	case "sqlite":
		st, err := profile.OpenSQLite(cfg.Profiles.DB)
		if err != nil {
			return nil, nil, err
		}
		store = st
		closeFn = func() { st.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown profiles backend %q (want file or sqlite)", cfg.Profiles.Backend)
	}
	if err := profile.Seed(ctx, store, logger); err != nil {
		logger.Warn("domcapture: seed profiles", "error", err)
	}
	return store, closeFn, nil
}

func cmdPick(args []string) error {
	fs := flag.NewFlagSet("pick", flag.ContinueOnError)
	var c common
	c.register(fs)
	startURL := fs.String("url", "", "start URL (default: first saved URL profile)")
	browserProfile := fs.String("profile", domcapture.DefaultBrowserProfile, "browser profile name")
	video := fs.Bool("video", false, "record the session as screencast frames")
	headless := fs.Bool("headless", false, "run Chrome headless")
	outRoot := fs.String("out", "", "directory the capture folders are created in")
	noOpen := fs.Bool("no-open", false, "do not open the capture folder after export")
	rest, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(rest) > 1 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(rest[1:], " "))
	}
	if *startURL == "" && len(rest) == 1 {
		*startURL = rest[0]
	}

	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	if *headless {
		cfg.Browser.Headless = true
	}
	if *outRoot != "" {
		cfg.Capture.OutputRoot = *outRoot
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sess := domcapture.New(cfg, store,
		domcapture.WithLogger(logger),
		domcapture.WithRemoteProfiles(bridgeURL(cfg.Profiles.Remote), nil),
	)
	return sess.Run(ctx, domcapture.Options{
		URL:            *startURL,
		BrowserProfile: *browserProfile,
		Video:          *video,
		OpenFolder:     !*noOpen,
	})
}

// parseInterspersed parses flags that appear before or after positional
// arguments (domcapture https://example.com -video). Everything after a bare
// "--" is positional.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var rest []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		remaining := fs.Args()
		if len(remaining) == 0 {
			return rest, nil
		}
		if consumed := len(args) - len(remaining); consumed > 0 && args[consumed-1] == "--" {
			return append(rest, remaining...), nil
		}
		rest = append(rest, remaining[0])
		args = remaining[1:]
	}
}

// bridgeURL turns the address of a `domcapture serve` process into the base
// URL of its bridge routes.
func bridgeURL(remote string) string {
	remote = strings.TrimRight(strings.TrimSpace(remote), "/")
	if remote == "" || strings.HasSuffix(remote, "/bridge") {
		return remote
	}
	return remote + "/bridge"
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var c common
	c.register(fs)
	addr := fs.String("addr", "", "listen address (default: serve.addr)")
	dir := fs.String("dir", "", "capture directory served at / (viewer, manifest, media)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	if *addr == "" {
		*addr = cfg.Serve.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           serveHandler(store, *dir, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("domcapture: serving", "addr", *addr, "dir", *dir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("domcapture: server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("domcapture: server stopped")
	return nil
}

// serveHandler mounts the bridge under /bridge (loopback, same-site callers
// only) and, when dir is set, the capture directory at /.
func serveHandler(store profile.Store, dir string, logger *slog.Logger) http.Handler {
	router := bridge.NewRouter(bridge.WithLogger(logger))
	bridge.NewService(store, nil, bridge.WithServiceLogger(logger)).Register(router)

	r := chi.NewRouter()
	for _, mw := range shield.Stack(logger) {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.With(shield.LoopbackOnly, shield.SameSiteOnly).Mount("/bridge", bridge.Routes(router))
	if dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}
	return r
}

func cmdCheck(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	var c common
	c.register(fs)
	name := fs.String("profile", "", "selection profile name")
	htmlPath := fs.String("html", "", "saved HTML snapshot (e.g. a capture's page.html)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *htmlPath == "" {
		return errors.New("-profile and -html are required")
	}
	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	p, err := profile.LoadSelection(ctx, store, *name)
	if err != nil {
		return err
	}
	f, err := os.Open(*htmlPath)
	if err != nil {
		return err
	}
	defer f.Close()
	doc, err := selector.Parse(f)
	if err != nil {
		return err
	}
	return report(out, p.Items, doc)
}

// report prints one line per profile item and fails when any selector does
// not resolve.
func report(out io.Writer, items []selection.Item, doc *selector.Document) error {
	sels := make([]string, len(items))
	for i, it := range items {
		sels[i] = it.Selector
	}
	missing := 0
	for i, o := range doc.Check(sels) {
		switch {
		case o.Err != nil:
			missing++
			fmt.Fprintf(out, "%3d  ERR   %s: %v\n", i+1, o.Selector, o.Err)
		case o.Matches == 0:
			missing++
			fmt.Fprintf(out, "%3d  MISS  %s\n", i+1, o.Selector)
		default:
			fmt.Fprintf(out, "%3d  OK    %s  (%d match, <%s> %q)\n", i+1, o.Selector, o.Matches, o.FirstTag, o.FirstText)
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d selectors unresolved", missing, len(items))
	}
	return nil
}

func cmdMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, logger, err := c.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	router := bridge.NewRouter(bridge.WithLogger(logger))
	bridge.NewService(store, nil, bridge.WithServiceLogger(logger)).Register(router)

	srv := mcp.NewServer(&mcp.Implementation{Name: "domcapture", Version: version}, nil)
	bridge.RegisterMCP(srv, router)
	logger.Info("domcapture: mcp on stdio", "tools", len(router.Ops()))
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
