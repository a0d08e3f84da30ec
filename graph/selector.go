//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Selector addresses a value as channel.path.to.field.
type Selector struct {
	Channel string
	Path    []string
}

// ParseSelector splits s on dots. Surrounding braces are accepted.
func ParseSelector(s string) (Selector, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{{")
	s = strings.TrimSuffix(s, "}}")
	s = strings.TrimSpace(s)
	if s == "" {
		return Selector{}, false
	}
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if p == "" {
			return Selector{}, false
		}
	}
	return Selector{Channel: parts[0], Path: parts[1:]}, true
}

func (s Selector) String() string {
	if len(s.Path) == 0 {
		return s.Channel
	}
	return s.Channel + "." + strings.Join(s.Path, ".")
}

var refPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// References returns the selectors embedded in text as {{channel.path}},
// sorted and without duplicates.
func References(text string) []Selector {
	seen := map[string]Selector{}
	for _, m := range refPattern.FindAllStringSubmatch(text, -1) {
		if sel, ok := ParseSelector(m[1]); ok {
			seen[sel.String()] = sel
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Selector, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}

// Render replaces every {{channel.path}} in text with its value. Missing
// values render as the empty string, objects as JSON.
func Render(text string, s StateReader) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return refPattern.ReplaceAllStringFunc(text, func(m string) string {
		sel, ok := ParseSelector(m)
		if !ok {
			return m
		}
		v, ok := s.Select(sel)
		if !ok {
			return ""
		}
		return Stringify(v)
	})
}

// RenderJSON is Render for JSON documents. A reference inside a string
// literal is substituted as escaped string content; anywhere else it
// becomes the JSON encoding of the value, null when unresolved.
func RenderJSON(text string, s StateReader) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	var (
		b        strings.Builder
		last     int
		inString bool
		escaped  bool
	)
	for _, loc := range refPattern.FindAllStringIndex(text, -1) {
		b.WriteString(text[last:loc[0]])
		inString, escaped = scanJSON(text[last:loc[0]], inString, escaped)
		last = loc[1]
		v, ok := s.Select(mustSelector(text[loc[0]:loc[1]]))
		switch {
		case inString && ok:
			enc := encodeJSON(Stringify(v))
			b.WriteString(enc[1 : len(enc)-1])
		case inString:
		case ok:
			b.WriteString(encodeJSON(v))
		default:
			b.WriteString("null")
		}
	}
	b.WriteString(text[last:])
	return b.String()
}

// mustSelector parses a reference already matched by refPattern.
func mustSelector(ref string) Selector {
	sel, _ := ParseSelector(ref)
	return sel
}

// scanJSON tracks whether the end of seg lies inside a string literal.
func scanJSON(seg string, inString, escaped bool) (bool, bool) {
	for i := 0; i < len(seg); i++ {
		switch c := seg[i]; {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		}
	}
	return inString, escaped
}

func encodeJSON(v any) string {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		buf.Reset()
		_ = enc.Encode(Stringify(v))
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Stringify formats v for templates.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any, []map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
