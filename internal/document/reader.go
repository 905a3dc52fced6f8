// Package document turns stored invoice files into plain text.
package document

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/vipul43/invoice-worker/internal/common"
	"github.com/vipul43/invoice-worker/internal/models"
)

// Source opens documents and reports whether a path is on local disk.
type Source interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	LocalPath(path string) (string, bool)
}

type Reader struct {
	source    Source
	pdftotext string
	runner    Runner
	log       *logrus.Logger
}

func NewReader(source Source, pdftotext string, log *logrus.Logger) *Reader {
	if pdftotext == "" {
		pdftotext = "pdftotext"
	}
	return &Reader{source: source, pdftotext: pdftotext, runner: execRunner{}, log: log}
}

// WithRunner replaces the command runner used for PDFs.
func (r *Reader) WithRunner(runner Runner) *Reader {
	r.runner = runner
	return r
}

// ExtractText returns the text content of the document at path. Blank
// output is reported as common.CodeEmptyDocument.
func (r *Reader) ExtractText(ctx context.Context, path string, fileType models.FileType) (string, error) {
	var (
		text string
		err  error
	)
	switch fileType {
	case models.FileTypePDF:
		text, err = r.pdfText(ctx, path)
	case models.FileTypeHTML:
		text, err = r.htmlText(ctx, path)
	default:
		return "", common.Errorf(common.CodeUnsupportedFileType, "%q", string(fileType))
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", common.Errorf(common.CodeEmptyDocument, "no text could be extracted from %s", path)
	}
	return text, nil
}

func (r *Reader) pdfText(ctx context.Context, path string) (string, error) {
	local, ok := r.source.LocalPath(path)
	if !ok {
		tmp, err := r.download(ctx, path)
		if err != nil {
			return "", err
		}
		defer func() {
			if err := os.Remove(tmp); err != nil {
				r.log.WithError(err).WithField("path", tmp).Warn("failed to remove temp file")
			}
		}()
		local = tmp
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := r.runner.Run(ctx, r.pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", local, "-")
	if err != nil {
		detail := strings.TrimSpace(string(errb))
		if detail == "" {
			detail = "pdftotext failed"
		}
		return "", common.NewAppError(common.CodeEmptyDocument, detail, err)
	}
	// form feeds separate pages
	return strings.ReplaceAll(string(out), "\f", "\n"), nil
}

func (r *Reader) download(ctx context.Context, path string) (string, error) {
	rc, err := r.source.Open(ctx, path)
	if err != nil {
		return "", common.NewAppError(common.CodeEmptyDocument, "open "+path, err)
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "invoice-*.pdf")
	if err != nil {
		return "", common.NewAppError(common.CodeEmptyDocument, "create temp file", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", common.NewAppError(common.CodeEmptyDocument, "download "+path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", common.NewAppError(common.CodeEmptyDocument, "write temp file", err)
	}
	return f.Name(), nil
}

func (r *Reader) htmlText(ctx context.Context, path string) (string, error) {
	rc, err := r.source.Open(ctx, path)
	if err != nil {
		return "", common.NewAppError(common.CodeEmptyDocument, "open "+path, err)
	}
	defer rc.Close()

	doc, err := goquery.NewDocumentFromReader(rc)
	if err != nil {
		return "", common.NewAppError(common.CodeEmptyDocument, "parse html", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	// table cells and block elements run together in Text(); pad them first
	doc.Find("td, th").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	doc.Find("p, div, tr, br, li, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return collapseWhitespace(doc.Text()), nil
}

// collapseWhitespace squeezes runs of spaces within each line and drops
// blank lines.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			kept = append(kept, strings.Join(fields, " "))
		}
	}
	return strings.Join(kept, "\n")
}
