// Package llmtest provides Completer doubles for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/agentloop/internal/llm"
	"github.com/stretchr/testify/mock"
)

// MockCompleter is a testify mock of llm.Completer.
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, spec llm.PromptSpec) (*llm.Output, error) {
	args := m.Called(ctx, spec)
	out, _ := args.Get(0).(*llm.Output)
	return out, args.Error(1)
}

// Func adapts a function to llm.Completer.
type Func func(ctx context.Context, spec llm.PromptSpec) (*llm.Output, error)

func (f Func) Complete(ctx context.Context, spec llm.PromptSpec) (*llm.Output, error) {
	return f(ctx, spec)
}

// Router answers each prompt by name with a fixed reply and records the
// prompts it saw. Unknown names get Default.
type Router struct {
	mu      sync.Mutex
	Replies map[string]string
	Default string
	Seen    []llm.PromptSpec
}

func (r *Router) Complete(_ context.Context, spec llm.PromptSpec) (*llm.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Seen = append(r.Seen, spec)
	if reply, ok := r.Replies[spec.Name]; ok {
		return llm.NewOutput(reply), nil
	}
	return llm.NewOutput(r.Default), nil
}

// Prompts returns the prompts seen with the given name.
func (r *Router) Prompts(name string) []llm.PromptSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []llm.PromptSpec
	for _, s := range r.Seen {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}
