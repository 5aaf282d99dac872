// Package scanner finds receipt documents in an inbox directory tree.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scanner walks a directory tree and collects receipt files.
type Scanner struct {
	rootDir string
}

// New creates a scanner for the given inbox root.
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir}
}

// Result is one discovered receipt file.
type Result struct {
	Path string
	Size int64
}

// Scan walks the inbox and returns all receipt documents in walk order
// (lexical per directory, so repeat runs see the same order).
func (s *Scanner) Scan() ([]Result, error) {
	rootDir := s.expandHome(s.rootDir)

	var results []Result
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !s.isReceiptFile(path) {
			return nil
		}
		results = append(results, Result{Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", rootDir, err)
	}
	return results, nil
}

// isReceiptFile checks if the file is a supported receipt document type.
func (s *Scanner) isReceiptFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// expandHome expands ~ to the home directory.
func (s *Scanner) expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
