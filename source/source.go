// Package source turns files on disk into raw text for ingestion.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"
)

var ErrUnsupported = errors.New("unsupported file type")

// Extensions lists the file types Load understands.
var Extensions = []string{".txt", ".md", ".pdf"}

// Document is the raw text of one file.
type Document struct {
	SourceRef string
	Path      string
	Text      string
}

// RefFunc derives a source ref from a file path.
type RefFunc func(path string) string

// PathRef uses the cleaned file path as source ref.
func PathRef(path string) string {
	return filepath.Clean(path)
}

// ScrapedRef reconstructs the URL of a scraped page from its file name,
// e.g. "example.com_terms.txt" becomes "https://example.com/terms".
func ScrapedRef(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return "https://" + strings.ReplaceAll(name, "_", "/")
}

func Supported(path string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(path)))
}

// Load reads the text of a single file.
func Load(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		bs, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}

		if !utf8.Valid(bs) {
			return "", fmt.Errorf("%s: not valid UTF-8", path)
		}

		return string(bs), nil

	case ".pdf":
		return loadPDF(path)

	default:
		return "", fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
}

// Collect loads a file, or every supported file below a directory in
// lexical order. Files that fail to load are reported in the joined error
// and do not stop the walk.
func Collect(ctx context.Context, root string, ref RefFunc) ([]Document, error) {
	if ref == nil {
		ref = PathRef
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		text, err := Load(root)
		if err != nil {
			return nil, err
		}

		return []Document{{SourceRef: ref(root), Path: root, Text: text}}, nil
	}

	var (
		docs []Document
		errs []error
	)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}

			return nil
		}

		if !Supported(path) {
			return nil
		}

		text, err := Load(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}

		docs = append(docs, Document{SourceRef: ref(path), Path: path, Text: text})
		return nil
	})

	if err != nil {
		return docs, err
	}

	return docs, errors.Join(errs...)
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}
