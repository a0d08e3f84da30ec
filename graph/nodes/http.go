//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/xpert-ai/xpert-sub002/graph"
)

// Body types of the http node.
const (
	bodyNone = "none"
	bodyJSON = "json"
	bodyRaw  = "raw"
	bodyForm = "x-www-form-urlencoded"
)

// Timeouts are in seconds.
type httpTimeout struct {
	Connect float64 `json:"connect,omitempty"`
	Read    float64 `json:"read,omitempty"`
	Write   float64 `json:"write,omitempty"`
}

type httpBody struct {
	Type string `json:"type,omitempty"`
	// Data is a template for json and raw bodies.
	Data string `json:"data,omitempty"`
	// Form holds the fields of form bodies.
	Form map[string]string `json:"form,omitempty"`
}

type httpEntity struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Body    httpBody          `json:"body"`
	Timeout httpTimeout       `json:"timeouts"`
	// MaxBodyBytes caps the response body kept in state.
	MaxBodyBytes int64 `json:"maxBodyBytes,omitempty"`
}

const defaultMaxBody = 1 << 20

// httpStrategy sends one request. Statuses of 400 and above fail the node
// so that retry and errorHandling apply.
type httpStrategy struct {
	client *http.Client
}

func (s *httpStrategy) Compile(_ context.Context, n *graph.Node, _ *graph.CompileContext) (*graph.Unit, error) {
	ent, err := decode[httpEntity](n)
	if err != nil {
		return nil, err
	}
	ent.Method = strings.ToUpper(strings.TrimSpace(ent.Method))
	if ent.Method == "" {
		ent.Method = http.MethodGet
	}
	switch ent.Body.Type {
	case "", bodyNone, bodyJSON, bodyRaw, bodyForm:
	default:
		return nil, fmt.Errorf("http %s: unknown body type %q", n.Key, ent.Body.Type)
	}
	if ent.URL == "" {
		return nil, fmt.Errorf("http %s: empty url", n.Key)
	}
	client := s.clientFor(ent.Timeout)
	return &graph.Unit{Execute: func(ctx context.Context, nc *graph.NodeContext) (*graph.Result, error) {
		req, err := buildRequest(ctx, nc, ent)
		if err != nil {
			return nil, fmt.Errorf("http %s: %w", nc.Node.Key, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http %s: %w", nc.Node.Key, err)
		}
		defer resp.Body.Close()
		limit := ent.MaxBodyBytes
		if limit <= 0 {
			limit = defaultMaxBody
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
		if err != nil {
			return nil, fmt.Errorf("http %s: read body: %w", nc.Node.Key, err)
		}
		headers := make(map[string]any, len(resp.Header))
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}
		out := map[string]any{
			"status":  resp.StatusCode,
			"body":    string(data),
			"headers": headers,
		}
		var parsed any
		if json.Valid(data) && json.Unmarshal(data, &parsed) == nil {
			out["json"] = parsed
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("http %s: %s %s: status %d", nc.Node.Key, req.Method, req.URL.Redacted(), resp.StatusCode)
		}
		return &graph.Result{Patch: out, Output: out}, nil
	}}, nil
}

// clientFor derives a client honouring the entity timeouts. The read and
// write budgets bound the whole exchange.
func (s *httpStrategy) clientFor(t httpTimeout) *http.Client {
	if t == (httpTimeout{}) {
		return s.client
	}
	c := *s.client
	if t.Connect > 0 {
		var base *http.Transport
		if tr, ok := c.Transport.(*http.Transport); ok {
			base = tr.Clone()
		} else {
			base = http.DefaultTransport.(*http.Transport).Clone()
		}
		base.DialContext = (&net.Dialer{Timeout: seconds(t.Connect)}).DialContext
		c.Transport = base
	}
	if total := seconds(t.Connect + t.Read + t.Write); t.Read > 0 || t.Write > 0 {
		c.Timeout = total
	}
	return &c
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

func buildRequest(ctx context.Context, nc *graph.NodeContext, ent *httpEntity) (*http.Request, error) {
	u, err := url.Parse(nc.Render(ent.URL))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(ent.Params) > 0 {
		q := u.Query()
		for _, k := range sortedKeys(ent.Params) {
			q.Set(k, nc.Render(ent.Params[k]))
		}
		u.RawQuery = q.Encode()
	}
	var body io.Reader
	contentType := ""
	switch ent.Body.Type {
	case bodyJSON:
		data := graph.RenderJSON(ent.Body.Data, nc.State)
		if !json.Valid([]byte(data)) {
			return nil, fmt.Errorf("body is not valid json")
		}
		body, contentType = strings.NewReader(data), "application/json"
	case bodyRaw:
		body, contentType = strings.NewReader(nc.Render(ent.Body.Data)), "text/plain"
	case bodyForm:
		form := url.Values{}
		for _, k := range sortedKeys(ent.Body.Form) {
			form.Set(k, nc.Render(ent.Body.Form[k]))
		}
		body, contentType = bytes.NewBufferString(form.Encode()), "application/x-www-form-urlencoded"
	}
	req, err := http.NewRequestWithContext(ctx, ent.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, k := range sortedKeys(ent.Headers) {
		req.Header.Set(k, nc.Render(ent.Headers[k]))
	}
	return req, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *httpStrategy) OutputVariables(*graph.Node) ([]graph.Parameter, error) {
	return []graph.Parameter{
		{Name: "status", Type: graph.ParamNumber},
		{Name: "body", Type: graph.ParamString},
		{Name: "json", Type: graph.ParamAny},
		{Name: "headers", Type: graph.ParamObject},
	}, nil
}
