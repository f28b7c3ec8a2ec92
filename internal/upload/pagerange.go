package upload

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParsePageRange expands a range expression like "1-3,5" into a sorted
// list of distinct page numbers, validated against the file's total
// page count.
func ParsePageRange(expr string, totalPages int) ([]int, error) {
	if totalPages < 1 {
		return nil, fmt.Errorf("total page count must be positive, got %d", totalPages)
	}

	seen := make(map[int]bool)
	for _, token := range strings.Split(expr, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, fmt.Errorf("empty segment in page range %q", expr)
		}

		from, to := token, token
		if i := strings.Index(token, "-"); i >= 0 {
			from, to = strings.TrimSpace(token[:i]), strings.TrimSpace(token[i+1:])
		}
		start, err := strconv.Atoi(from)
		if err != nil {
			return nil, fmt.Errorf("invalid page number %q in %q", from, expr)
		}
		end, err := strconv.Atoi(to)
		if err != nil {
			return nil, fmt.Errorf("invalid page number %q in %q", to, expr)
		}
		if start > end {
			return nil, fmt.Errorf("descending range %q in %q", token, expr)
		}
		if start < 1 || end > totalPages {
			return nil, fmt.Errorf("range %q is outside pages 1-%d", token, totalPages)
		}
		for p := start; p <= end; p++ {
			seen[p] = true
		}
	}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}
