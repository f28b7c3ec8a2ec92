// Package pagecount derives the number of printable pages from a
// staged file. PDFs get precise parsing with a chain of bounded
// fallback heuristics; other formats get per-extension estimates.
package pagecount

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
)

// Result reports a resolved page count and how it was derived
type Result struct {
	Pages    int
	Method   string
	Metadata map[string]string
}

// Size heuristics for formats without a precise counter
var bytesPerPage = map[string]int64{
	".docx": 15 * 1024,
	".doc":  10 * 1024,
	".txt":  4 * 1024,
	".rtf":  6 * 1024,
}

const (
	defaultBytesPerPage = 50 * 1024
	maxEstimatedPages   = 500
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".webp": true,
}

// Count resolves the page count for the file at path. It never fails:
// every branch bottoms out in a size-based estimate.
func Count(path, name string, size int64) Result {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == ".pdf":
		return countPDF(path, size)
	case imageExts[ext]:
		return countImage(path)
	case ext == ".docx":
		return countDocx(path, size)
	default:
		return sizeHeuristic(ext, size)
	}
}

// countImage probes the image header for dimensions. A print job
// renders an image on exactly one page.
func countImage(path string) Result {
	res := Result{Pages: 1, Method: "image"}

	f, err := os.Open(path)
	if err != nil {
		return res
	}
	defer f.Close()

	if cfg, format, err := image.DecodeConfig(f); err == nil {
		res.Metadata = map[string]string{
			"format": format,
			"width":  fmt.Sprintf("%d", cfg.Width),
			"height": fmt.Sprintf("%d", cfg.Height),
		}
	}
	return res
}

func sizeHeuristic(ext string, size int64) Result {
	bpp, ok := bytesPerPage[ext]
	if !ok {
		bpp = defaultBytesPerPage
	}
	return Result{Pages: clampPages(size / bpp), Method: "size-estimate"}
}

func clampPages(n int64) int {
	if n < 1 {
		return 1
	}
	if n > maxEstimatedPages {
		return maxEstimatedPages
	}
	return int(n)
}
