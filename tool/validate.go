//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidArguments is wrapped by every argument validation failure.
var ErrInvalidArguments = errors.New("tool: invalid arguments")

var compiled sync.Map // schema JSON -> *jsonschema.Schema

// ValidateArgs checks jsonArgs against the input schema of decl. A nil
// schema accepts any JSON object.
func ValidateArgs(decl *Declaration, jsonArgs []byte) error {
	if decl == nil || decl.InputSchema == nil {
		return nil
	}
	schema, err := compileSchema(decl.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %s: compile input schema: %w", decl.Name, err)
	}
	if len(bytes.TrimSpace(jsonArgs)) == 0 {
		jsonArgs = []byte("{}")
	}
	var v any
	if err := json.Unmarshal(jsonArgs, &v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, decl.Name, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, decl.Name, err)
	}
	return nil
}

func compileSchema(s *Schema) (*jsonschema.Schema, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	key := string(b)
	if cached, ok := compiled.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, err
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, err
	}
	compiled.Store(key, schema)
	return schema, nil
}
