//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package chunking splits documents into chunks for embedding.
package chunking

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xpert-ai/xpert-sub002/knowledge/document"
)

const (
	defaultChunkSize = 1024
	defaultOverlap   = 128
)

var (
	// ErrNilDocument is returned for a nil document.
	ErrNilDocument = errors.New("chunking: document is nil")
	// ErrEmptyDocument is returned for a document without content.
	ErrEmptyDocument = errors.New("chunking: document is empty")
)

// Strategy splits one document into chunks.
type Strategy interface {
	Chunk(doc *document.Document) ([]*document.Document, error)
}

// FixedSizeChunking cuts text into rune windows of a fixed size with overlap.
type FixedSizeChunking struct {
	chunkSize int
	overlap   int
}

// Option configures FixedSizeChunking.
type Option func(*FixedSizeChunking)

// WithChunkSize sets the maximum chunk size in characters.
func WithChunkSize(size int) Option {
	return func(f *FixedSizeChunking) {
		f.chunkSize = size
	}
}

// WithOverlap sets the number of characters shared by consecutive chunks.
func WithOverlap(overlap int) Option {
	return func(f *FixedSizeChunking) {
		f.overlap = overlap
	}
}

// NewFixedSizeChunking creates a fixed size strategy.
func NewFixedSizeChunking(opts ...Option) *FixedSizeChunking {
	f := &FixedSizeChunking{chunkSize: defaultChunkSize, overlap: defaultOverlap}
	for _, opt := range opts {
		opt(f)
	}
	if f.chunkSize <= 0 {
		f.chunkSize = defaultChunkSize
	}
	if f.overlap < 0 || f.overlap >= f.chunkSize {
		f.overlap = 0
	}
	return f
}

// Chunk implements Strategy.
func (f *FixedSizeChunking) Chunk(doc *document.Document) ([]*document.Document, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if doc.IsEmpty() {
		return nil, ErrEmptyDocument
	}
	pieces := splitRunes(cleanText(doc.Content), f.chunkSize, f.overlap)
	out := make([]*document.Document, 0, len(pieces))
	for i, p := range pieces {
		out = append(out, newChunk(doc, p, i, ""))
	}
	return out, nil
}

func splitRunes(text string, size, overlap int) []string {
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	runes := []rune(text)
	step := size - overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}

func newChunk(src *document.Document, content string, idx int, section string) *document.Document {
	c := src.Clone()
	c.ID = fmt.Sprintf("%s_%d", src.ID, idx)
	c.Content = content
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Metadata[document.MetaSourceID] = src.ID
	c.Metadata[document.MetaChunkIndex] = idx
	if section != "" {
		c.Metadata[document.MetaSection] = section
	}
	return c
}
