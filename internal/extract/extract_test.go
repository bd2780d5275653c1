package extract

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/olegiv/logtriage-ai-go/internal/analyzer"
	"github.com/olegiv/logtriage-ai-go/internal/classifier"
)

func TestIsLogAttachment(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"logcat.log", true},
		{"SETUPAPI.DEV.LOG", true},
		{"notes.txt", true},
		{"events.csv", true},
		{"screenshot.png", false},
		{"report.pdf", false},
		{"log", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := IsLogAttachment(tt.filename); got != tt.want {
				t.Errorf("IsLogAttachment(%q) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF([]byte("%PDF-1.7\n"), "") {
		t.Error("magic bytes not detected")
	}
	if !IsPDF([]byte("anything"), "application/pdf; charset=binary") {
		t.Error("content type not detected")
	}
	if IsPDF([]byte("plain text"), "text/plain") {
		t.Error("plain text detected as PDF")
	}
}

func TestExtract_Encodings(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"utf8", []byte("I/ActivityManager: Start proc"), "I/ActivityManager: Start proc"},
		{"utf8 with bom", append([]byte{0xEF, 0xBB, 0xBF}, []byte("héllo")...), "héllo"},
		{"windows-1252 quotes", []byte("\x93quoted\x94 caf\xe9"), "“quoted” café"},
		{"utf16 little endian", []byte{0xFF, 0xFE, 'o', 0, 'k', 0}, "ok"},
		{"utf16 big endian", []byte{0xFE, 0xFF, 0, 'o', 0, 'k'}, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.data, "file.log", "text/plain")
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Extract() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	if _, err := Extract(nil, "x.log", ""); !errors.Is(err, ErrEmpty) {
		t.Errorf("Extract(nil) error = %v, want ErrEmpty", err)
	}

	_, err := Extract([]byte("%PDF-1.4 garbage"), "broken.pdf", "")
	if err == nil {
		t.Fatal("Extract(broken pdf) should fail")
	}
	if !strings.Contains(err.Error(), "broken.pdf") {
		t.Errorf("error should name the file: %v", err)
	}
}

// setupapiContent draws two lines of a Windows SetupAPI log.
const setupapiContent = "BT /F1 12 Tf 72 720 Td (Section start: Driver) Tj T* ([Exit status: FAILURE]) Tj ET"

// buildPDF assembles a minimal PDF with one page per content stream and a
// correct cross-reference table.
func buildPDF(t *testing.T, flate bool, pages ...string) []byte {
	t.Helper()

	var objects []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)

	for i, content := range pages {
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			5+2*i))

		data := []byte(content)
		filter := ""
		if flate {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(data); err != nil {
				t.Fatalf("compress content: %v", err)
			}
			if err := zw.Close(); err != nil {
				t.Fatalf("compress content: %v", err)
			}
			data = buf.Bytes()
			filter = " /Filter /FlateDecode"
		}
		objects = append(objects, fmt.Sprintf("<< /Length %d%s >>\nstream\n%s\nendstream", len(data), filter, data))
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return out.Bytes()
}

func TestExtract_PDF(t *testing.T) {
	for _, flate := range []bool{false, true} {
		name := "plain"
		if flate {
			name = "flate"
		}
		t.Run(name, func(t *testing.T) {
			data := buildPDF(t, flate, setupapiContent)

			text, err := Extract(data, "setupapi.pdf", "application/pdf")
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if want := "Section start: Driver\n[Exit status: FAILURE]"; text != want {
				t.Errorf("Extract() = %q, want %q", text, want)
			}
			if got := classifier.Classify(text); got != analyzer.CategoryDesktop {
				t.Errorf("Classify(extracted) = %q, want desktop", got)
			}
		})
	}
}

func TestExtract_PDFPages(t *testing.T) {
	data := buildPDF(t, true,
		"BT /F1 10 Tf 40 800 Td (10-18 09:12:01.456 E/AndroidRuntime: FATAL EXCEPTION: main) Tj ET",
		"BT /F1 10 Tf 40 800 Td (Process: com.zebra.scanner, PID: 4121) Tj ET",
	)

	count, err := PageCount(data)
	if err != nil {
		t.Fatalf("PageCount() error = %v", err)
	}
	if count != 2 {
		t.Errorf("PageCount() = %d, want 2", count)
	}

	// The content type is missing, so the magic bytes decide.
	text, err := Extract(data, "bugreport", "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	lines := strings.Split(text, "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "FATAL EXCEPTION") || !strings.Contains(lines[1], "com.zebra.scanner") {
		t.Errorf("Extract() = %q, want one line per page", text)
	}
	if got := classifier.Classify(text); got != analyzer.CategoryMobile {
		t.Errorf("Classify(extracted) = %q, want mobile", got)
	}
}

func TestExtract_PDFWithoutText(t *testing.T) {
	data := buildPDF(t, false, "q 1 0 0 1 0 0 cm Q")

	_, err := Extract(data, "scan.pdf", "application/pdf")
	if !errors.Is(err, ErrNoPDFText) {
		t.Errorf("Extract() error = %v, want ErrNoPDFText", err)
	}
}

func TestPageCount_Invalid(t *testing.T) {
	if _, err := PageCount([]byte("not a pdf")); err == nil {
		t.Error("PageCount() should fail for non-PDF input")
	}
}

func TestReader_Read(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "logcat.log")

	content := strings.Repeat("10-18 09:12:01.456 I/Tag: line\n", 10)
	if err := os.WriteFile(testFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	reader := NewReader(10)
	data, err := reader.Read(testFile)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != content {
		t.Error("Content mismatch")
	}

	text, err := reader.ReadText(testFile)
	if err != nil {
		t.Fatalf("ReadText() error = %v", err)
	}
	if text != content {
		t.Error("ReadText() content mismatch")
	}
}

func TestReader_ReadErrors(t *testing.T) {
	tmpDir := t.TempDir()

	big := filepath.Join(tmpDir, "big.log")
	if err := os.WriteFile(big, []byte(strings.Repeat("X", 2*1024*1024)), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	empty := filepath.Join(tmpDir, "empty.log")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"missing", filepath.Join(tmpDir, "missing.log"), "not found"},
		{"directory", tmpDir, "directory"},
		{"too big", big, "exceeds maximum size"},
		{"empty", empty, "empty"},
	}

	reader := NewReader(1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reader.Read(tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestReader_GetSourceInfo(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "events.csv")
	if err := os.WriteFile(testFile, []byte("a,b,c\n"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	info, err := NewReader(10).GetSourceInfo(testFile)
	if err != nil {
		t.Fatalf("GetSourceInfo() error = %v", err)
	}
	if info["name"] != "events.csv" {
		t.Errorf("name = %v", info["name"])
	}
	if info["size_bytes"] != int64(6) {
		t.Errorf("size_bytes = %v, want 6", info["size_bytes"])
	}

	if _, ok := info["pages"]; ok {
		t.Error("pages reported for a non-PDF file")
	}

	pdfFile := filepath.Join(tmpDir, "setupapi.pdf")
	if err := os.WriteFile(pdfFile, buildPDF(t, false, setupapiContent), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	pdfInfo, err := NewReader(10).GetSourceInfo(pdfFile)
	if err != nil {
		t.Fatalf("GetSourceInfo(pdf) error = %v", err)
	}
	if pdfInfo["pages"] != 1 {
		t.Errorf("pages = %v, want 1", pdfInfo["pages"])
	}

	if _, err := NewReader(10).GetSourceInfo(filepath.Join(tmpDir, "nope")); err == nil {
		t.Error("expected error for missing file")
	}
}
