//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package function

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/xpert-sub002/tool"
)

type addInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addOutput struct {
	Sum int `json:"sum"`
}

func newAdd() *FunctionTool[addInput, addOutput] {
	return NewFunctionTool(func(_ context.Context, in addInput) (addOutput, error) {
		if in.A < 0 {
			return addOutput{}, errors.New("negative")
		}
		return addOutput{Sum: in.A + in.B}, nil
	}, WithName("add"), WithDescription("adds numbers"))
}

func TestFunctionTool_Call(t *testing.T) {
	add := newAdd()
	var _ tool.CallableTool = add

	out, err := add.Call(context.Background(), []byte(`{"a":2,"b":3}`))
	require.NoError(t, err)
	assert.Equal(t, addOutput{Sum: 5}, out)

	_, err = add.Call(context.Background(), []byte(`{"a":-1,"b":3}`))
	assert.EqualError(t, err, "negative")

	_, err = add.Call(context.Background(), []byte(`{`))
	assert.Error(t, err)
}

func TestFunctionTool_DeclarationValidates(t *testing.T) {
	decl := newAdd().Declaration()
	assert.Equal(t, "add", decl.Name)
	assert.ElementsMatch(t, []string{"a", "b"}, decl.InputSchema.Required)

	require.NoError(t, tool.ValidateArgs(decl, []byte(`{"a":1,"b":2}`)))
	err := tool.ValidateArgs(decl, []byte(`{"a":"x","b":2}`))
	assert.ErrorIs(t, err, tool.ErrInvalidArguments)
	err = tool.ValidateArgs(decl, []byte(`{"a":1}`))
	assert.ErrorIs(t, err, tool.ErrInvalidArguments)
}
