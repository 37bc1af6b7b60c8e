// Package report renders the terminal artifacts of a run into files a
// researcher actually opens: the markdown report, an HTML rendering of it,
// and an xlsx workbook of the statistics.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"discernus/domain/artifacts"
	"discernus/internal"
)

// Writer renders run outputs into a target directory
type Writer struct {
	logger *internal.Logger
}

// NewWriter creates the writer
func NewWriter(logger *internal.Logger) *Writer {
	return &Writer{logger: logger.Component("ReportWriter")}
}

// WriteMarkdown writes final_report.md: the synthesis narrative followed by
// the provenance block linking every upstream artifact hash.
func (w *Writer) WriteMarkdown(dir string, fr *artifacts.FinalReport) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", fr.Title)
	b.WriteString(strings.TrimSpace(fr.Body))
	b.WriteString("\n\n## Provenance\n\n")
	fmt.Fprintf(&b, "- Experiment: `%s`\n", fr.ExperimentHash)
	fmt.Fprintf(&b, "- Statistics: `%s`\n", fr.StatisticsHash)
	for _, h := range fr.AnalysisHashes {
		fmt.Fprintf(&b, "- Analysis: `%s`\n", h)
	}
	for _, h := range fr.AttestationHashes {
		fmt.Fprintf(&b, "- Attestation: `%s`\n", h)
	}
	for i, h := range fr.SynthesisStepHashes {
		fmt.Fprintf(&b, "- Synthesis step %d: `%s`\n", i+1, h)
	}

	path := filepath.Join(dir, "final_report.md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report markdown: %w", err)
	}
	w.logger.Info("wrote %s", path)
	return path, nil
}

// WriteHTML renders final_report.html from the same content
func (w *Writer) WriteHTML(dir string, fr *artifacts.FinalReport) (string, error) {
	mdPath, err := w.WriteMarkdown(dir, fr)
	if err != nil {
		return "", err
	}
	source, err := os.ReadFile(mdPath)
	if err != nil {
		return "", err
	}

	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	body := markdown.ToHTML(source, p, renderer)

	var page strings.Builder
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&page, "<title>%s</title>\n", fr.Title)
	page.WriteString("</head>\n<body>\n")
	page.Write(body)
	page.WriteString("</body>\n</html>\n")

	path := filepath.Join(dir, "final_report.html")
	if err := os.WriteFile(path, []byte(page.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report html: %w", err)
	}
	w.logger.Info("wrote %s", path)
	return path, nil
}
