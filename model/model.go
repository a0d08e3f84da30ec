//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package model declares the language model capability consumed by agent
// and classifier nodes. Providers live outside this module.
package model

import "context"

// Model is the interface for all language models.
//
// System failures are returned as the error of GenerateContent. Errors
// reported by the provider while streaming arrive as Response.Error.
type Model interface {
	// GenerateContent streams the responses for request. The channel is
	// closed after the final response.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a Model.
type Info struct {
	Name string
}

// Provider resolves a model by the name configured on a node.
type Provider interface {
	Model(name string) (Model, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(name string) (Model, error)

// Model calls f.
func (f ProviderFunc) Model(name string) (Model, error) { return f(name) }
