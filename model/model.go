// Package model defines the minimal text generation contract used by
// model-backed agent adapters, plus a deterministic MockModel for tests and
// examples. Provider implementations live in sub-packages (openai,
// anthropic) so the core never links against a vendor SDK it does not use.
package model

import (
	"context"
	"fmt"
)

// Message is one conversational exchange handed to a model.
type Message struct {
	Role string `json:"role"` // "system", "user" or "assistant"
	Text string `json:"text"`
}

// Request captures the normalized model input produced by adapters.
type Request struct {
	Instructions string    `json:"instructions"` // Agent persona / task framing
	Messages     []Message `json:"messages"`     // Conversation history, oldest first
	Stream       bool      `json:"stream,omitempty"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	Text         string `json:"text"`
	Partial      bool   `json:"partial"`
	FinishReason string `json:"finish_reason,omitempty"` // "stop", "length", ...
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Model is the minimal interface required by model-backed adapters to drive
// generation. Implementations stream zero or more partial responses followed
// by exactly one final response, then close both channels.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
type MockModel struct {
	info      Info
	responses map[string]string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// Generate implements Model; emits optional streaming char chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}

		input := req.Messages[len(req.Messages)-1].Text
		full := m.responses[input]
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", input)
		}

		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Text: string(r), Partial: true}:
				}
			}
		}

		respCh <- Response{Text: full, FinishReason: "stop"}
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
