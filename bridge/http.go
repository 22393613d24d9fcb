package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/domcapture/internal/safeio"
)

// maxBody caps bridge request and response bodies.
const maxBody int64 = 4 << 20

// Routes mounts POST /{op} on a chi router. Mount it under /bridge.
func Routes(r *Router) http.Handler {
	mux := chi.NewRouter()
	mux.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.Ops())
	})
	mux.Post("/{op}", func(w http.ResponseWriter, req *http.Request) {
		op := Op(chi.URLParam(req, "op"))
		payload, err := safeio.LimitedReadAll(req.Body, maxBody)
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		out, err := r.Call(req.Context(), op, payload)
		if err != nil {
			var unknown *ErrUnknownOp
			if errors.As(err, &unknown) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			out = Failure(op, err)
		}
		w.Header().Set("Content-Type", contentType(op))
		w.Write(out)
	})
	return mux
}

func contentType(op Op) string {
	switch op {
	case OpGetConfig, OpLoadSelectionProfile:
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

// Remote returns a Handler per operation that forwards to a bridge served by
// another domcapture process (baseURL ends before /{op}, e.g.
// "http://127.0.0.1:8765/bridge").
func Remote(baseURL string, client *http.Client) func(op Op) Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	base := strings.TrimRight(baseURL, "/")
	return func(op Op) Handler {
		endpoint := base + "/" + string(op)
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, fmt.Errorf("bridge/http: create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/octet-stream")

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("bridge/http: do request: %w", err)
			}
			defer resp.Body.Close()

			body, err := safeio.LimitedReadAll(resp.Body, maxBody)
			if err != nil {
				return nil, fmt.Errorf("bridge/http: read response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, fmt.Errorf("bridge/http: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
			}
			return body, nil
		}
	}
}

// RegisterRemote registers every operation on r as a forward to baseURL.
func RegisterRemote(r *Router, baseURL string, client *http.Client) {
	forward := Remote(baseURL, client)
	for _, op := range AllOps {
		r.Register(op, forward(op))
	}
}
