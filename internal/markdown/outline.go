// Package markdown extracts the heading outline of Markdown files so their
// section structure can be fed to the embedding model alongside the text.
package markdown

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// MaxSections caps how many header paths SectionsLine emits.
const MaxSections = 20

// Outliner reads H1 to H3 headings from Markdown documents.
type Outliner struct {
	md goldmark.Markdown
}

// NewOutliner creates an outliner configured with the goldmark parser.
func NewOutliner() *Outliner {
	return &Outliner{
		md: goldmark.New(goldmark.WithParserOptions(parser.WithAutoHeadingID())),
	}
}

// Outline returns one header path per heading in document order, with
// ancestors joined by " > ", e.g. "Install > Prerequisites".
func (o *Outliner) Outline(source []byte) ([]string, error) {
	doc := o.md.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(3),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	var paths []string
	walk(tree.Items, nil, &paths)
	return paths, nil
}

func walk(items toc.Items, ancestors []string, paths *[]string) {
	for _, item := range items {
		current := ancestors
		if title := strings.TrimSpace(string(item.Title)); title != "" {
			current = append(append([]string(nil), ancestors...), title)
			*paths = append(*paths, strings.Join(current, " > "))
		}
		walk(item.Items, current, paths)
	}
}

// SectionsLine renders the outline as a single "sections: ..." header line,
// or "" when the document has no headings or fails to parse.
func (o *Outliner) SectionsLine(source []byte) string {
	paths, err := o.Outline(source)
	if err != nil || len(paths) == 0 {
		return ""
	}
	if len(paths) > MaxSections {
		paths = paths[:MaxSections]
	}
	return "sections: " + strings.Join(paths, "; ")
}
