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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xpert-ai/xpert-sub002/model"
)

var errNoResponse = errors.New("model returned no response")

// generation is the outcome of one model request.
type generation struct {
	message  model.Message
	tokens   int64
	streamed bool
}

// generate consumes the response stream of m. Partial chunks go to onDelta;
// the final response wins over the accumulated chunks.
func generate(ctx context.Context, m model.Model, req *model.Request, onDelta func(string)) (*generation, error) {
	ch, err := m.GenerateContent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", m.Info().Name, err)
	}
	g := &generation{message: model.Message{Role: model.RoleAssistant}}
	var text strings.Builder
	var final *model.Response
loop:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp, ok := <-ch:
			if !ok {
				break loop
			}
			if resp == nil {
				continue
			}
			if resp.Error != nil {
				return nil, fmt.Errorf("model %s: %s: %s", m.Info().Name, resp.Error.Type, resp.Error.Message)
			}
			if resp.Usage != nil {
				g.tokens = int64(resp.Usage.TotalTokens)
			}
			if resp.IsPartial {
				for _, c := range resp.Choices {
					if c.Delta.Content == "" {
						continue
					}
					text.WriteString(c.Delta.Content)
					g.streamed = true
					if onDelta != nil {
						onDelta(c.Delta.Content)
					}
				}
				continue
			}
			final = resp
		}
	}
	switch {
	case final != nil && len(final.Choices) > 0:
		g.message = final.Choices[0].Message
		g.message.Role = model.RoleAssistant
		if g.message.Content == "" {
			g.message.Content = text.String()
		}
	case text.Len() > 0:
		g.message.Content = text.String()
	default:
		return nil, fmt.Errorf("model %s: %w", m.Info().Name, errNoResponse)
	}
	return g, nil
}

func resolveModel(p model.Provider, name string) (model.Model, error) {
	if p == nil {
		return nil, fmt.Errorf("model provider: %w", errMissingDep)
	}
	return p.Model(name)
}
