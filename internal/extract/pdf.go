package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoPDFText is returned when a PDF parses but none of its pages hold text,
// which is the case for scanned documents.
var ErrNoPDFText = errors.New("PDF contains no extractable text")

func pdfConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in a PDF document.
func PageCount(data []byte) (int, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), pdfConfiguration())
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("failed to count PDF pages: %w", err)
	}
	return ctx.PageCount, nil
}

// pdfText returns the text of every page, one block per page. Pages that
// fail to decode are skipped; a document where no page yields text is an
// error.
func pdfText(data []byte) (text string, err error) {
	count, err := PageCount(data)
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}

	// The content parser panics on some malformed objects.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	fonts := make(map[string]*pdf.Font)
	var out strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}

		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(pageText); s != "" {
			out.WriteString(s)
			out.WriteString("\n")
		}
	}

	if out.Len() == 0 {
		return "", ErrNoPDFText
	}
	return decodeText([]byte(strings.TrimRight(out.String(), "\n")))
}
