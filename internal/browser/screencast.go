package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-rod/rod/lib/proto"
)

// Recorder writes the tab's screencast as numbered JPEG frames.
type Recorder struct {
	t      *Tab
	dir    string
	frames int
	cancel context.CancelFunc
	done   chan struct{}
}

// StartScreencast begins recording into dir as frame_NNNNN.jpg.
func (t *Tab) StartScreencast(ctx context.Context, dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("browser: screencast dir: %w", err)
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &Recorder{t: t, dir: dir, cancel: cancel, done: make(chan struct{})}

	p := t.Page.Context(rctx)
	wait := p.EachEvent(func(e *proto.PageScreencastFrame) {
		r.frames++
		name := filepath.Join(dir, fmt.Sprintf("frame_%05d.jpg", r.frames))
		if err := os.WriteFile(name, e.Data, 0o644); err != nil {
			t.logger.Debug("browser: screencast frame not written", "error", err)
		}
		_ = proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(p)
	})
	go func() {
		wait()
		close(r.done)
	}()

	quality := 70
	if err := (proto.PageStartScreencast{
		Format:  proto.PageStartScreencastFormatJpeg,
		Quality: &quality,
	}).Call(p); err != nil {
		cancel()
		<-r.done
		return nil, fmt.Errorf("browser: start screencast: %w", err)
	}
	t.logger.InfoContext(ctx, "browser: screencast started", "dir", dir)
	return r, nil
}

// Stop ends the recording and returns the number of frames written.
func (r *Recorder) Stop() int {
	_ = proto.PageStopScreencast{}.Call(r.t.Page)
	r.cancel()
	<-r.done
	r.t.logger.Info("browser: screencast stopped", "dir", r.dir, "frames", r.frames)
	return r.frames
}
