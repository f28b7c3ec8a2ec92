package pagecount

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/unidoc/unioffice/document"
)

// Roughly what a standard A4 page of body text holds
const wordsPerPage = 400

// countDocx estimates pages for a Word document from its word count.
// OOXML carries no page boundaries, they only exist after layout, so
// this is always an estimate. Unreadable documents fall back to the
// size heuristic.
func countDocx(path string, size int64) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return sizeHeuristic(".docx", size)
	}
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return sizeHeuristic(".docx", size)
	}

	words := 0
	paragraphs := 0
	for _, para := range doc.Paragraphs() {
		paragraphs++
		for _, run := range para.Runs() {
			words += len(strings.Fields(run.Text()))
		}
	}

	pages := (words + wordsPerPage - 1) / wordsPerPage
	if pages < 1 {
		pages = 1
	}
	return Result{
		Pages:  pages,
		Method: "docx-words",
		Metadata: map[string]string{
			"paragraphs": fmt.Sprintf("%d", paragraphs),
			"words":      fmt.Sprintf("%d", words),
		},
	}
}
