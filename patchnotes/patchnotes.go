// Package patchnotes downloads the markdown release notes linked from
// title-update entries and flattens them to plain text for the terminal.
package patchnotes

import (
	"bytes"
	"context"
	"strings"

	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/client"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/pool"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Note is the rendered patch notes of one entry. Err is set when the notes
// could not be fetched; Text is empty then.
type Note struct {
	Entry catalog.Entry
	Text  string
	Err   error
}

type Fetcher struct {
	client  *client.Client
	md      goldmark.Markdown
	Workers int
}

func New(c *client.Client) *Fetcher {
	return &Fetcher{
		client:  c,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		Workers: pool.DefaultWorkers,
	}
}

// Fetch downloads the notes of every title update that links some. Notes
// come back in the order of entries; entries without a link are skipped.
func (f *Fetcher) Fetch(ctx context.Context, entries []catalog.Entry) []Note {
	var linked []catalog.Entry
	for _, e := range entries {
		if e.Kind == catalog.TitleUpdate && strings.TrimSpace(e.PatchNotesURL) != "" {
			linked = append(linked, e)
		}
	}
	if len(linked) == 0 {
		return nil
	}

	results := pool.Map(ctx, linked, f.Workers, func(ctx context.Context, e catalog.Entry) (string, error) {
		body, err := f.client.Get(ctx, e.PatchNotesURL)
		if err != nil {
			return "", err
		}
		return f.Render(body), nil
	})

	notes := make([]Note, 0, len(results))
	for _, r := range results {
		n := Note{Entry: linked[r.Index], Text: r.Value}
		if r.Err != nil {
			log.Warn().Err(r.Err).Str("update", n.Entry.Name).Msg("Patch notes unavailable")
			n.Err = clierr.New(clierr.NetworkTransient, "could not fetch patch notes for "+n.Entry.Name, r.Err)
		}
		notes = append(notes, n)
	}
	return notes
}

// Render flattens markdown to plain text. Headings and paragraphs are
// separated by a blank line, list items are prefixed with "- ".
func (f *Fetcher) Render(src []byte) string {
	doc := f.md.Parser().Parse(text.NewReader(src))
	var b bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch v := n.(type) {
		case *ast.Text:
			if !entering {
				break
			}
			b.Write(v.Segment.Value(src))
			switch {
			case v.HardLineBreak():
				b.WriteByte('\n')
			case v.SoftLineBreak():
				b.WriteByte(' ')
			}
		case *ast.String:
			if entering {
				b.Write(v.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(v.Label(src))
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				b.WriteByte('\n')
			}
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if entering {
				b.WriteString("- ")
			}
		case *ast.Heading, *ast.Paragraph:
			if !entering {
				b.WriteString("\n\n")
			}
		case *ast.TextBlock, *ast.List:
			if !entering {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return tidy(b.String())
}

// tidy trims trailing spaces and collapses runs of blank lines.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
