package pagecount

import (
	"os"
	"regexp"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// How much of the file the byte-scan heuristics look at. Page tree
// objects sit near the front of most PDFs.
const pdfScanLimit = 500 * 1024

const pdfBytesPerPage = 120 * 1024

var (
	rePageTree = regexp.MustCompile(`/Type\s*/Pages`)
	rePageObj  = regexp.MustCompile(`/Type\s*/Page\b`)
	reCount    = regexp.MustCompile(`/Count\s+(\d+)`)
)

// countPDF parses the document with pdfcpu. When the file is damaged
// or uses features pdfcpu rejects, a chain of byte-scan heuristics
// over the leading bytes produces an estimate instead of an error.
func countPDF(path string, size int64) Result {
	if n, err := api.PageCountFile(path); err == nil && n > 0 {
		return Result{Pages: n, Method: "parsed"}
	}

	head, err := readHead(path, pdfScanLimit)
	if err == nil {
		if n, ok := pageTreeCount(head); ok {
			return Result{Pages: n, Method: "page-tree"}
		}
		if n := len(rePageObj.FindAll(head, -1)); n > 0 {
			return Result{Pages: n, Method: "page-markers"}
		}
		if n, ok := medianCount(head); ok {
			return Result{Pages: n, Method: "count-median"}
		}
	}
	return Result{Pages: clampPages(size / pdfBytesPerPage), Method: "size-estimate"}
}

func readHead(path string, limit int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, limit)
	n, err := f.Read(buf)
	if n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

// pageTreeCount finds the page tree node and reads its /Count entry,
// the authoritative total when present.
func pageTreeCount(b []byte) (int, bool) {
	loc := rePageTree.FindIndex(b)
	if loc == nil {
		return 0, false
	}
	end := loc[1] + 256
	if end > len(b) {
		end = len(b)
	}
	m := reCount.FindSubmatch(b[loc[1]:end])
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// medianCount takes the median over every /Count marker in the scanned
// region. Intermediate tree nodes carry partial counts, so the median
// is a steadier pick than the maximum on truncated files.
func medianCount(b []byte) (int, bool) {
	var counts []int
	for _, m := range reCount.FindAllSubmatch(b, -1) {
		if n, err := strconv.Atoi(string(m[1])); err == nil && n > 0 {
			counts = append(counts, n)
		}
	}
	if len(counts) == 0 {
		return 0, false
	}
	sort.Ints(counts)
	return counts[len(counts)/2], true
}
