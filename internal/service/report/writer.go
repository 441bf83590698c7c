package report

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/patentops/claimverify/backend/internal/model/review"
)

const divider = "────────────────────────────────────────"

// Writer renders report artifacts under a single output directory.
type Writer struct {
	now func() time.Time
}

// NewWriter returns a report writer using wall-clock timestamps.
func NewWriter() *Writer {
	return &Writer{now: time.Now}
}

// WriteQA renders the ordered approved pairs as a Markdown document at
// path and returns the written location. Every pair appears exactly once,
// in approval order.
func (w *Writer) WriteQA(path string, pairs []review.QAPair) (string, error) {
	var b strings.Builder
	b.WriteString("# Patent Claim Verification — Q&A Report\n\n")
	fmt.Fprintf(&b, "Generated: %s  |  Total approved pairs: %d\n\n",
		w.now().UTC().Format("2006-01-02 15:04:05"), len(pairs))

	for i, pair := range pairs {
		fmt.Fprintf(&b, "## Question %d\n\n", i+1)
		fmt.Fprintf(&b, "**Q:** %s\n\n", pair.Question)
		b.WriteString("**Answer:**\n\n")
		b.WriteString(pair.Answer)
		b.WriteString("\n\n")
		b.WriteString(divider)
		b.WriteString("\n\n")
	}

	return w.write(path, b.String())
}

// WriteAnalysis renders the streamed comparative analysis text as a
// Markdown document at path.
func (w *Writer) WriteAnalysis(path, analysis string) (string, error) {
	var b strings.Builder
	b.WriteString("# Patent Claim Analysis Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", w.now().UTC().Format("2006-01-02 15:04:05"))
	b.WriteString(analysis)
	b.WriteString("\n")

	return w.write(path, b.String())
}

func (w *Writer) write(path, content string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	log.Printf("[report] wrote %s (%d bytes)", path, len(content))
	return path, nil
}
