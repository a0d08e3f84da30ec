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
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/xpert-ai/xpert-sub002/graph"
)

// Operator compares a selected value with a condition value.
type Operator string

// Comparison operators.
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpGreater     Operator = "gt"
	OpGreaterEq   Operator = "gte"
	OpLess        Operator = "lt"
	OpLessEq      Operator = "lte"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpEmpty       Operator = "empty"
	OpNotEmpty    Operator = "notEmpty"
)

var operators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true, OpGreater: true, OpGreaterEq: true,
	OpLess: true, OpLessEq: true, OpContains: true, OpNotContains: true,
	OpStartsWith: true, OpEndsWith: true, OpEmpty: true, OpNotEmpty: true,
}

// Logical operators joining conditions.
const (
	LogicalAnd = "and"
	LogicalOr  = "or"
)

// Condition tests one value.
type Condition struct {
	// Variable is a state selector. List operators use Key instead, a
	// dotted path inside the item.
	Variable string   `json:"variableSelector,omitempty"`
	Key      string   `json:"key,omitempty"`
	Operator Operator `json:"comparisonOperator"`
	Value    any      `json:"value,omitempty"`
}

func validateConditions(conds []Condition, logical string) error {
	switch strings.ToLower(logical) {
	case "", LogicalAnd, LogicalOr:
	default:
		return fmt.Errorf("unknown logical operator %q", logical)
	}
	for i, c := range conds {
		if !operators[c.Operator] {
			return fmt.Errorf("condition %d: unknown operator %q", i, c.Operator)
		}
	}
	return nil
}

// matchAll joins the results of test with the logical operator; no
// conditions never match.
func matchAll(conds []Condition, logical string, test func(Condition) bool) bool {
	if len(conds) == 0 {
		return false
	}
	or := strings.EqualFold(logical, LogicalOr)
	for _, c := range conds {
		ok := test(c)
		if or && ok {
			return true
		}
		if !or && !ok {
			return false
		}
	}
	return !or
}

// compare evaluates actual op expected.
func compare(op Operator, actual, expected any) bool {
	switch op {
	case OpEmpty:
		return isEmpty(actual)
	case OpNotEmpty:
		return !isEmpty(actual)
	case OpEquals:
		return equal(actual, expected)
	case OpNotEquals:
		return !equal(actual, expected)
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false
		}
		switch op {
		case OpGreater:
			return a > b
		case OpGreaterEq:
			return a >= b
		case OpLess:
			return a < b
		default:
			return a <= b
		}
	case OpContains:
		return contains(actual, expected)
	case OpNotContains:
		return !contains(actual, expected)
	case OpStartsWith:
		return strings.HasPrefix(graph.Stringify(actual), graph.Stringify(expected))
	case OpEndsWith:
		return strings.HasSuffix(graph.Stringify(actual), graph.Stringify(expected))
	}
	return false
}

func equal(a, b any) bool {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
	}
	if x, ok := a.(bool); ok {
		if y, err := strconv.ParseBool(graph.Stringify(b)); err == nil {
			return x == y
		}
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return graph.Stringify(a) == graph.Stringify(b)
}

func contains(haystack, needle any) bool {
	if list, ok := toList(haystack); ok && haystack != nil {
		for _, e := range list {
			if equal(e, needle) {
				return true
			}
		}
		return false
	}
	if m, ok := haystack.(map[string]any); ok {
		_, found := m[graph.Stringify(needle)]
		return found
	}
	return strings.Contains(graph.Stringify(haystack), graph.Stringify(needle))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// lookup resolves a dotted path inside v.
func lookup(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, p := range strings.Split(path, ".") {
		switch t := cur.(type) {
		case map[string]any:
			next, ok := t[p]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			cur = t[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
