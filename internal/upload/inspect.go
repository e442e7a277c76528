package upload

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ledongthuc/pdf"
)

// inspect fills in what can be learned about a file locally. Failures leave
// the fields zero.
func inspect(path string) (size int64, pages int) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, 0
	}
	size = info.Size()
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		pages = pdfPages(path)
	}
	return size, pages
}

func pdfPages(path string) (n int) {
	// The parser panics on some malformed inputs.
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	return r.NumPage()
}

// Describe is a short human summary of a task's local facts, e.g.
// "1.2 MB, 14 pages".
func Describe(t Task) string {
	var parts []string
	if t.Size > 0 {
		parts = append(parts, humanize.Bytes(uint64(t.Size)))
	}
	switch {
	case t.Pages == 1:
		parts = append(parts, "1 page")
	case t.Pages > 1:
		parts = append(parts, humanize.Comma(int64(t.Pages))+" pages")
	}
	return strings.Join(parts, ", ")
}
