package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Model = (*MockModel)(nil)

func collect(t *testing.T, respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()
	var out []Response
	for r := range respCh {
		out = append(out, r)
	}
	return out, <-errCh
}

func TestMockModel_CannedResponse(t *testing.T) {
	m := NewMockModel("test-model")
	m.AddResponse("hello", "hi there")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Text: "hello"}},
	})

	responses, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "hi there", responses[0].Text)
	assert.False(t, responses[0].Partial)
	assert.Equal(t, "stop", responses[0].FinishReason)
}

func TestMockModel_DefaultResponse(t *testing.T) {
	m := NewMockModel("test-model")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Text: "anything"}},
	})

	responses, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "Mock response to: anything", responses[0].Text)
}

func TestMockModel_Streaming(t *testing.T) {
	m := NewMockModel("test-model")
	m.AddResponse("hi", "ok")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Text: "hi"}},
		Stream:   true,
	})

	responses, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	// Two partial char chunks plus the final full response.
	require.Len(t, responses, 3)
	assert.True(t, responses[0].Partial)
	assert.True(t, responses[1].Partial)
	assert.Equal(t, "ok", responses[2].Text)
	assert.False(t, responses[2].Partial)
}

func TestMockModel_NoMessages(t *testing.T) {
	m := NewMockModel("test-model")

	respCh, errCh := m.Generate(context.Background(), Request{})

	responses, err := collect(t, respCh, errCh)
	assert.Error(t, err)
	assert.Empty(t, responses)
}

func TestMockModel_Info(t *testing.T) {
	m := NewMockModel("test-model")

	info := m.Info()
	assert.Equal(t, "test-model", info.Name)
	assert.Equal(t, "mock", info.Provider)
}
