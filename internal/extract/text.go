// Package extract turns uploaded or downloaded files into plain text for
// classification and analysis.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// ErrEmpty is returned when a file holds no bytes.
var ErrEmpty = errors.New("file is empty")

var (
	pdfMagic   = []byte("%PDF")
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
)

// logExtensions are the attachment types worth downloading for analysis.
var logExtensions = map[string]bool{
	".log": true,
	".txt": true,
	".csv": true,
}

// IsLogAttachment reports whether filename has a log-like extension.
func IsLogAttachment(filename string) bool {
	return logExtensions[strings.ToLower(filepath.Ext(filename))]
}

// IsPDF reports whether the content or its declared type is PDF.
func IsPDF(data []byte, contentType string) bool {
	if bytes.HasPrefix(data, pdfMagic) {
		return true
	}
	return strings.HasPrefix(strings.ToLower(contentType), "application/pdf")
}

// Extract returns the readable text of a file. PDFs are parsed page by page;
// everything else is decoded as text.
func Extract(data []byte, filename, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}

	if IsPDF(data, contentType) || strings.EqualFold(filepath.Ext(filename), ".pdf") {
		text, err := pdfText(data)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from %s: %w", filename, err)
		}
		return text, nil
	}

	return decodeText(data)
}

// decodeText tries UTF-16 (when a BOM says so), UTF-8, Windows-1252 and
// finally ISO-8859-1, which accepts any byte sequence.
func decodeText(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, utf16LEBOM):
		return decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), data)
	case bytes.HasPrefix(data, utf16BEBOM):
		return decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), data)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}

	if text, err := decodeWith(charmap.Windows1252, data); err == nil && !strings.ContainsRune(text, utf8.RuneError) {
		return text, nil
	}

	return decodeWith(charmap.ISO8859_1, data)
}

func decodeWith(enc encoding.Encoding, data []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode text: %w", err)
	}
	return string(out), nil
}
