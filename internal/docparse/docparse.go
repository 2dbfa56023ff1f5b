// Package docparse turns uploaded documents into plain text for ingestion.
package docparse

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	appErr "github.com/xxxsen/ragdesk/internal/pkg/errors"
)

// Parser extracts plain text from the raw bytes of one file format.
type Parser func(data []byte) (string, error)

var (
	parserMu sync.RWMutex
	parsers  = map[string]Parser{}
)

// Register binds a parser to a lowercase file extension including the dot.
func Register(ext string, p Parser) {
	key := strings.ToLower(strings.TrimSpace(ext))
	if key == "" || p == nil {
		return
	}
	parserMu.Lock()
	parsers[key] = p
	parserMu.Unlock()
}

func Supported(filename string) bool {
	parserMu.RLock()
	defer parserMu.RUnlock()
	_, ok := parsers[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Extract picks a parser by file extension. Unknown extensions fail with
// ErrUnsupportedFile.
func Extract(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	parserMu.RLock()
	p := parsers[ext]
	parserMu.RUnlock()
	if p == nil {
		return "", fmt.Errorf("%w: %q", appErr.ErrUnsupportedFile, ext)
	}
	text, err := p(data)
	if err != nil {
		return "", fmt.Errorf("%w: parse %s: %v", appErr.ErrInvalid, filename, err)
	}
	return text, nil
}

func parsePlain(data []byte) (string, error) {
	return strings.ToValidUTF8(string(data), ""), nil
}

func init() {
	Register(".txt", parsePlain)
	Register(".md", parseMarkdown)
	Register(".markdown", parseMarkdown)
	Register(".csv", parseCSV)
	Register(".docx", parseDocx)
	Register(".pdf", parsePDF)
}
