package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Reader loads log files from disk with size and permission checks.
type Reader struct {
	maxSizeMB int
}

// NewReader creates a reader that rejects files larger than maxSizeMB.
func NewReader(maxSizeMB int) *Reader {
	return &Reader{maxSizeMB: maxSizeMB}
}

// MaxBytes returns the size limit in bytes.
func (r *Reader) MaxBytes() int64 {
	return int64(r.maxSizeMB) * 1024 * 1024
}

// Read returns the raw bytes of the file at path.
func (r *Reader) Read(path string) ([]byte, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("log file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	if fileInfo.IsDir() {
		return nil, fmt.Errorf("log path is a directory: %s", path)
	}

	if fileInfo.Mode().Perm()&0400 == 0 {
		return nil, fmt.Errorf("log file is not readable: %s", path)
	}

	if fileInfo.Size() > r.MaxBytes() {
		return nil, fmt.Errorf("log file exceeds maximum size of %dMB (size: %.2fMB)",
			r.maxSizeMB, float64(fileInfo.Size())/1024/1024)
	}

	if fileInfo.Size() == 0 {
		return nil, fmt.Errorf("log file is empty: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	return data, nil
}

// ReadText reads path and extracts its text.
func (r *Reader) ReadText(path string) (string, error) {
	data, err := r.Read(path)
	if err != nil {
		return "", err
	}
	return Extract(data, filepath.Base(path), "")
}

// GetSourceInfo returns metadata about the file at path.
func (r *Reader) GetSourceInfo(path string) (map[string]interface{}, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	info := map[string]interface{}{
		"name":       fileInfo.Name(),
		"size_bytes": fileInfo.Size(),
		"size_mb":    float64(fileInfo.Size()) / 1024 / 1024,
		"modified":   fileInfo.ModTime(),
		"age_hours":  time.Since(fileInfo.ModTime()).Hours(),
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") && fileInfo.Size() <= r.MaxBytes() {
		if data, err := os.ReadFile(path); err == nil {
			if pages, err := PageCount(data); err == nil {
				info["pages"] = pages
			}
		}
	}

	return info, nil
}
