package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/loaderland/concept-runner/pkg/llm"
	"github.com/loaderland/concept-runner/pkg/pubmed"
	"github.com/loaderland/concept-runner/pkg/tavily"
)

// MockLLM is a testify mock of llm.Client.
type MockLLM struct {
	mock.Mock
}

func (m *MockLLM) CreateMessage(ctx context.Context, req llm.MessageRequest) (*llm.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.MessageResponse), args.Error(1)
}

// llmText wraps plain text as a model response.
func llmText(s string) *llm.MessageResponse {
	return &llm.MessageResponse{Text: s}
}

// MockPubMed is a testify mock of pubmed.Client.
type MockPubMed struct {
	mock.Mock
}

func (m *MockPubMed) Search(ctx context.Context, query string, limit int) ([]string, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockPubMed) FetchMetadata(ctx context.Context, pmids []string) ([]pubmed.Paper, error) {
	args := m.Called(ctx, pmids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pubmed.Paper), args.Error(1)
}

func (m *MockPubMed) FetchFulltext(ctx context.Context, pmcID string) (string, error) {
	args := m.Called(ctx, pmcID)
	return args.String(0), args.Error(1)
}

// MockTavily is a testify mock of tavily.Client.
type MockTavily struct {
	mock.Mock
}

func (m *MockTavily) Search(ctx context.Context, req tavily.SearchRequest) (*tavily.SearchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tavily.SearchResponse), args.Error(1)
}

func (m *MockTavily) Extract(ctx context.Context, urls []string) (*tavily.ExtractResponse, error) {
	args := m.Called(ctx, urls)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tavily.ExtractResponse), args.Error(1)
}
