//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one candidate of a response.
type Choice struct {
	Index   int     `json:"index"`
	Message Message `json:"message"`
	// Delta is set on partial responses.
	Delta Message `json:"delta"`
}

// ResponseError is an error reported by the provider.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Response is one item of the GenerateContent stream.
type Response struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []Choice       `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
	// IsPartial marks streaming chunks. The final aggregated response has it unset.
	IsPartial bool `json:"is_partial"`
	Done      bool `json:"done"`
}
