package capture

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed viewer.html
var viewerHTML []byte

// WriteViewer writes the read-only capture viewer into dir. The viewer
// fetches ./manifest.json, so it needs to be served over http.
func WriteViewer(dir string) error {
	if err := os.WriteFile(filepath.Join(dir, fileViewer), viewerHTML, 0o644); err != nil {
		return fmt.Errorf("capture: write viewer: %w", err)
	}
	return nil
}

// ViewerName is the viewer's file name inside a capture directory.
const ViewerName = fileViewer
