package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/BoweryJG/clearverify-patient/pkg/anthropic"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func TestLLMAdvisor_SuggestSelectors(t *testing.T) {
	llm := new(mockLLM)
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.MaxTokens == 512 &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 &&
			strings.Contains(req.Messages[0].Content, "https://portal.example.com") &&
			strings.Contains(req.Messages[0].Content, `<input id="uid">`)
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{
			Type: "text",
			Text: "```json\n{\"username\": \"#uid\", \"password\": \"#pwd\"}\n```",
		}},
	}, nil)

	adv := NewLLMAdvisor(llm, "claude-haiku-4-5-20251001", 512)
	got, err := adv.SuggestSelectors(context.Background(), "https://portal.example.com", `<input id="uid">`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"username": "#uid", "password": "#pwd"}, got)
	llm.AssertExpectations(t)
}

func TestLLMAdvisor_RequestError(t *testing.T) {
	llm := new(mockLLM)
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	_, err := NewLLMAdvisor(llm, "m", 0).SuggestSelectors(context.Background(), "u", "<form></form>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis: advisor request")
}

func TestLLMAdvisor_UnparseableAnswer(t *testing.T) {
	llm := new(mockLLM)
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "I could not find a login form."}},
	}, nil)

	_, err := NewLLMAdvisor(llm, "m", 0).SuggestSelectors(context.Background(), "u", "<form></form>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis: parse advisor answer")
}
