// Package docs reads project documentation from the config repo's docs/
// directory.
package docs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// SystemMapFile is the canonical architecture reference document.
const SystemMapFile = "system_map.md"

var markdown = goldmark.New()

// Reader provides access to markdown docs under <repo>/docs.
type Reader struct {
	dir string
}

// NewReader creates a docs reader for the given config repo root.
func NewReader(repoRoot string) *Reader {
	return &Reader{dir: filepath.Join(repoRoot, "docs")}
}

// Read returns the raw text of a doc file. A leading "docs/" prefix is
// stripped, and a .md extension is appended if the name as given does
// not exist. Returns os.ErrNotExist (wrapped) when nothing matches.
func (r *Reader) Read(filename string) (string, error) {
	filename = strings.TrimPrefix(filename, "docs/")

	// Names like "../secrets.yaml" must not escape the docs directory.
	if !filepath.IsLocal(filename) {
		return "", fmt.Errorf("doc %q: %w", filename, os.ErrNotExist)
	}

	path := filepath.Join(r.dir, filename)
	if data, err := os.ReadFile(path); err == nil {
		return string(data), nil
	}

	if !strings.HasSuffix(filename, ".md") {
		path = filepath.Join(r.dir, filename+".md")
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}

	return "", fmt.Errorf("doc %q: %w", filename, os.ErrNotExist)
}

// SystemMap returns the full system architecture map document.
func (r *Reader) SystemMap() (string, error) {
	return r.Read(SystemMapFile)
}

// Doc describes one documentation file.
type Doc struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// List walks docs/ recursively and returns every markdown file with the
// text of its first heading as the title. Paths are relative to docs/
// and sorted. Returns nil when the directory does not exist.
func (r *Reader) List() []Doc {
	var out []Doc
	filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(r.dir, path)
		if relErr != nil {
			return nil
		}
		doc := Doc{Path: rel}
		if data, readErr := os.ReadFile(path); readErr == nil {
			doc.Title = firstHeading(data)
		}
		out = append(out, doc)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// firstHeading extracts the text of the first markdown heading.
func firstHeading(src []byte) string {
	root := markdown.Parser().Parse(text.NewReader(src))

	var title string
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if _, ok := n.(*ast.Heading); !ok {
			return ast.WalkContinue, nil
		}
		var b strings.Builder
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				b.Write(t.Segment.Value(src))
			}
		}
		title = b.String()
		return ast.WalkStop, nil
	})
	return title
}
