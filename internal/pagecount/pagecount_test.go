package pagecount

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestPDFPageTreeCount(t *testing.T) {
	// Damaged enough that the parser rejects it, but the page tree
	// object survives in the leading bytes.
	body := []byte("%PDF-1.4\n1 0 obj\n<< /Type /Pages /Kids [2 0 R] /Count 12 >>\nendobj\ngarbage")
	path := writeTemp(t, "broken.pdf", body)

	res := Count(path, "broken.pdf", int64(len(body)))
	if res.Pages != 12 || res.Method != "page-tree" {
		t.Errorf("Count = %+v, want 12 pages via page-tree", res)
	}
}

func TestPDFPageMarkerCount(t *testing.T) {
	body := []byte("%PDF-1.4\n" +
		"2 0 obj << /Type /Page /Parent 1 0 R >> endobj\n" +
		"3 0 obj << /Type/Page /Parent 1 0 R >> endobj\n" +
		"4 0 obj << /Type /Page /Parent 1 0 R >> endobj\n")
	path := writeTemp(t, "markers.pdf", body)

	res := Count(path, "markers.pdf", int64(len(body)))
	if res.Pages != 3 || res.Method != "page-markers" {
		t.Errorf("Count = %+v, want 3 pages via page-markers", res)
	}
}

func TestPDFCountMedian(t *testing.T) {
	body := []byte("%PDF-1.4\n<< /Count 2 >>\n<< /Count 9 >>\n<< /Count 7 >>\n")
	path := writeTemp(t, "counts.pdf", body)

	res := Count(path, "counts.pdf", int64(len(body)))
	if res.Pages != 7 || res.Method != "count-median" {
		t.Errorf("Count = %+v, want median 7", res)
	}
}

func TestPDFSizeEstimate(t *testing.T) {
	path := writeTemp(t, "opaque.pdf", []byte("not a pdf at all"))

	res := Count(path, "opaque.pdf", 600*1024)
	if res.Method != "size-estimate" {
		t.Fatalf("Count method = %q, want size-estimate", res.Method)
	}
	if res.Pages != 5 {
		t.Errorf("600KB estimate = %d pages, want 5", res.Pages)
	}
}

func TestImageIsOnePage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	path := writeTemp(t, "photo.png", buf.Bytes())

	res := Count(path, "photo.png", int64(buf.Len()))
	if res.Pages != 1 || res.Method != "image" {
		t.Errorf("Count = %+v, want 1 page via image", res)
	}
	if res.Metadata["width"] != "3" || res.Metadata["height"] != "2" {
		t.Errorf("Image metadata = %v", res.Metadata)
	}
}

func TestSizeHeuristicBounds(t *testing.T) {
	path := writeTemp(t, "notes.txt", []byte("hi"))

	if res := Count(path, "notes.txt", 2); res.Pages != 1 {
		t.Errorf("Tiny file = %d pages, want minimum 1", res.Pages)
	}
	if res := Count(path, "notes.txt", 1<<32); res.Pages != maxEstimatedPages {
		t.Errorf("Huge file = %d pages, want cap %d", res.Pages, maxEstimatedPages)
	}
}

func TestDocxFallsBackToSizeHeuristic(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 45*1024)
	path := writeTemp(t, "report.docx", body)

	res := Count(path, "report.docx", int64(len(body)))
	if res.Method != "size-estimate" {
		t.Fatalf("Count method = %q, want size-estimate for unreadable docx", res.Method)
	}
	if res.Pages != 3 {
		t.Errorf("45KB docx estimate = %d pages, want 3", res.Pages)
	}
}
