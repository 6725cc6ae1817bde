package voice

import (
	"context"
	"fmt"
	"strings"

	"github.com/nwang783/just-in-case/pkg/provider/llm"
	"github.com/nwang783/just-in-case/pkg/types"
)

const summarisationPrompt = `Summarise the following portion of a mock case interview between an interviewer and a candidate.
Preserve: the case prompt, every data point already shared, the candidate's framework and hypotheses,
calculations and their results, and which questions are still open.
Be concise but keep every number exactly as stated.`

// Summariser condenses a run of conversation turns.
type Summariser interface {
	Summarise(ctx context.Context, messages []types.Message) (string, error)
}

// LLMSummariser summarises with a completion model.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser returns a summariser backed by provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise renders messages as a speaker-labelled transcript and asks the
// model for a summary. An empty input yields an empty summary without a call.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []types.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]: %s\n", speakerLabel(m.Role), m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []types.Message{{Role: "user", Content: sb.String()}},
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}

func speakerLabel(role string) string {
	switch role {
	case "assistant":
		return "interviewer"
	case "user":
		return "candidate"
	default:
		return role
	}
}
