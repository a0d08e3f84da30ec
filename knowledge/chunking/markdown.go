//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package chunking

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/xpert-ai/xpert-sub002/knowledge/document"
)

// MarkdownChunking splits on headings first and falls back to fixed size
// windows for sections that are still too large.
type MarkdownChunking struct {
	fixed *FixedSizeChunking
	md    goldmark.Markdown
}

// NewMarkdownChunking creates a markdown aware strategy.
func NewMarkdownChunking(opts ...Option) *MarkdownChunking {
	return &MarkdownChunking{fixed: NewFixedSizeChunking(opts...), md: goldmark.New()}
}

type section struct {
	title string
	body  strings.Builder
}

// Chunk implements Strategy.
func (m *MarkdownChunking) Chunk(doc *document.Document) ([]*document.Document, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if doc.IsEmpty() {
		return nil, ErrEmptyDocument
	}
	source := []byte(cleanText(doc.Content))
	root := m.md.Parser().Parse(text.NewReader(source))

	sections := []*section{{}}
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			sections = append(sections, &section{title: string(h.Text(source))})
			continue
		}
		cur := sections[len(sections)-1]
		if cur.body.Len() > 0 {
			cur.body.WriteString("\n\n")
		}
		cur.body.WriteString(blockText(n, source))
	}

	var out []*document.Document
	for _, s := range sections {
		content := strings.TrimSpace(s.body.String())
		if s.title != "" {
			content = strings.TrimSpace(s.title + "\n\n" + content)
		}
		if content == "" {
			continue
		}
		for _, p := range splitRunes(content, m.fixed.chunkSize, m.fixed.overlap) {
			out = append(out, newChunk(doc, p, len(out), s.title))
		}
	}
	return out, nil
}

// blockText returns the raw source lines of a block node.
func blockText(n ast.Node, source []byte) string {
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		var b strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
		return strings.TrimSpace(b.String())
	}
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t := blockText(c, source); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}
