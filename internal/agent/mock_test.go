package agent

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/greenline-analytics/lca-cli/pkg/claude"
)

// mockClient returns scripted responses in order. A nil entry yields an error.
type mockClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []claude.MessageRequest
}

func (m *mockClient) CreateMessage(_ context.Context, req claude.MessageRequest) (*claude.MessageResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx >= len(m.responses) {
		return nil, eris.New("mock: no scripted response")
	}
	return &claude.MessageResponse{
		Content: []claude.ContentBlock{{Type: "text", Text: m.responses[idx]}},
	}, nil
}

// mockOCR returns a fixed text or error.
type mockOCR struct {
	text string
	err  error
}

func (m *mockOCR) ExtractText(_ context.Context, _ []byte) (string, error) {
	return m.text, m.err
}

func testDeps(client claude.Client, extractor *mockOCR) Deps {
	d := Deps{
		Claude:      client,
		HaikuModel:  "claude-haiku-4-5-20251001",
		SonnetModel: "claude-sonnet-4-5-20250929",
		MaxTokens:   4096,
	}
	d.Retry.MaxAttempts = 1
	if extractor != nil {
		d.OCR = extractor
	}
	return d
}
