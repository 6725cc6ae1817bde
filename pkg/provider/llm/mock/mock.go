// Package mock provides a test double for the llm.Provider interface.
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: `{"ok":true}`},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/nwang783/just-in-case/pkg/provider/llm"
	"github.com/nwang783/just-in-case/pkg/types"
)

// Provider is a mock implementation of llm.Provider. Zero values make
// methods return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are emitted in order by every StreamCompletion call.
	StreamChunks []llm.Chunk

	// StreamErr, if set, is returned by StreamCompletion.
	StreamErr error

	// CompleteResponse is returned by Complete.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if set, is returned by Complete.
	CompleteErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities types.ModelCapabilities

	streamReqs   []llm.CompletionRequest
	completeReqs []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records req and replays StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.streamReqs = append(p.streamReqs, req)
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records req and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completeReqs = append(p.completeReqs, req)
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens returns the shared estimate.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// StreamRequests returns a copy of the requests seen by StreamCompletion.
func (p *Provider) StreamRequests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.streamReqs...)
}

// CompleteRequests returns a copy of the requests seen by Complete.
func (p *Provider) CompleteRequests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.completeReqs...)
}
