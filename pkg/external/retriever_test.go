package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type fakeReader struct {
	answer   string
	err      error
	query    string
	passages []string
}

func (f *fakeReader) Answer(_ context.Context, query string, passages []string) (string, error) {
	f.query = query
	f.passages = passages
	return f.answer, f.err
}

func TestExtractStageHint(t *testing.T) {
	tests := []struct {
		text string
		want *domain.IRISStage
	}{
		{"1. IRIS stage 3\n2. Creatinine above 2.9", domain.StagePtr(domain.IRIS3)},
		{"This cat is iris 2 based on SDMA", domain.StagePtr(domain.IRIS2)},
		{"Stage 4 CKD", domain.StagePtr(domain.IRIS4)},
		{"IRIS Stage 1 and later stage 3", domain.StagePtr(domain.IRIS1)},
		{"SEM CONFIANÇA", nil},
		{"Context not sufficient to stage", nil},
		{"stage 7", nil},
		{"Per the IRIS 2019 guidelines this is stage 3", domain.StagePtr(domain.IRIS3)},
		{"IRIS 2023 update on SDMA", nil},
		{"IRIS2 with AP1", domain.StagePtr(domain.IRIS2)},
		{"substage 2", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractStageHint(tt.text))
		})
	}
}

func TestLiteratureRetriever_Search(t *testing.T) {
	server := newPubMedServer(t, nil)
	defer server.Close()

	reader := &fakeReader{answer: "1. IRIS stage 2\n2. Creatinine within 1.6-2.8"}
	retriever := NewLiteratureRetriever(testPubMedClient(server.URL), reader, testLogger())
	require.True(t, retriever.Available())

	result, err := retriever.Search(context.Background(), "feline chronic kidney disease creatinine 2.5")
	require.NoError(t, err)

	// article 222 has no abstract and is dropped
	require.Len(t, result.Passages, 1)
	assert.True(t, strings.HasPrefix(result.Passages[0], "IRIS staging of feline chronic kidney disease. Cats with"))
	assert.Equal(t, []string{"PMID:111 IRIS staging of feline chronic kidney disease (J Feline Med Surg 2019)"}, result.Sources)
	assert.Equal(t, domain.StagePtr(domain.IRIS2), result.StageHint)
	assert.Equal(t, reader.answer, result.Summary)
	assert.Equal(t, "feline chronic kidney disease creatinine 2.5", reader.query)
	assert.Equal(t, result.Passages, reader.passages)
}

func TestLiteratureRetriever_WithoutReader(t *testing.T) {
	server := newPubMedServer(t, nil)
	defer server.Close()

	result, err := NewLiteratureRetriever(testPubMedClient(server.URL), nil, testLogger()).
		Search(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, 1, result.DocCount())
	assert.Nil(t, result.StageHint)
	assert.Empty(t, result.Summary)
}

func TestLiteratureRetriever_ReaderFailureKeepsPassages(t *testing.T) {
	server := newPubMedServer(t, nil)
	defer server.Close()

	reader := &fakeReader{err: errors.New("quota exceeded")}
	result, err := NewLiteratureRetriever(testPubMedClient(server.URL), reader, testLogger()).
		Search(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, 1, result.DocCount())
	assert.Nil(t, result.StageHint)
}

func TestLiteratureRetriever_PubMedDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewLiteratureRetriever(testPubMedClient(server.URL), nil, testLogger()).
		Search(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
}

func TestLiteratureRetriever_Unavailable(t *testing.T) {
	var nilRetriever *LiteratureRetriever
	assert.False(t, nilRetriever.Available())
	assert.False(t, NewLiteratureRetriever(nil, nil, testLogger()).Available())
}

func TestNoopRetriever(t *testing.T) {
	var r NoopRetriever
	assert.False(t, r.Available())

	result, err := r.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 0, result.DocCount())
}

type stubRetriever struct {
	mu     sync.Mutex
	calls  int
	result *domain.EvidenceResult
	err    error
}

func (s *stubRetriever) Available() bool { return true }

func (s *stubRetriever) Search(_ context.Context, query string) (*domain.EvidenceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type mapCache struct {
	entries map[string]*domain.EvidenceResult
	getErr  error
}

func (m *mapCache) Get(_ context.Context, query string) (*domain.EvidenceResult, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	r, ok := m.entries[query]
	return r, ok, nil
}

func (m *mapCache) Set(_ context.Context, query string, result *domain.EvidenceResult) error {
	m.entries[query] = result
	return nil
}

func TestResilientRetriever_CachesSuccess(t *testing.T) {
	next := &stubRetriever{result: &domain.EvidenceResult{Query: "q", Passages: []string{"p"}}}
	cache := &mapCache{entries: map[string]*domain.EvidenceResult{}}
	r := NewResilientRetriever(next, cache, DefaultCircuitBreakerConfig(), testLogger())

	for i := 0; i < 3; i++ {
		result, err := r.Search(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, 1, result.DocCount())
	}
	assert.Equal(t, 1, next.calls)
	assert.Contains(t, cache.entries, "q")
}

func TestResilientRetriever_CacheErrorFallsThrough(t *testing.T) {
	next := &stubRetriever{result: &domain.EvidenceResult{Query: "q"}}
	cache := &mapCache{entries: map[string]*domain.EvidenceResult{}, getErr: errors.New("redis down")}
	r := NewResilientRetriever(next, cache, DefaultCircuitBreakerConfig(), testLogger())

	_, err := r.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
}

func TestResilientRetriever_OpensAfterFailures(t *testing.T) {
	next := &stubRetriever{err: errors.New("connection refused")}
	r := NewResilientRetriever(next, nil, DefaultCircuitBreakerConfig(), testLogger())

	for i := 0; i < 2; i++ {
		_, err := r.Search(context.Background(), "q")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "literature query failed")
	}

	_, err := r.Search(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, "open", r.State().String())
}

func TestResilientRetriever_Available(t *testing.T) {
	assert.True(t, NewResilientRetriever(&stubRetriever{}, nil, DefaultCircuitBreakerConfig(), testLogger()).Available())
	assert.False(t, NewResilientRetriever(NoopRetriever{}, nil, DefaultCircuitBreakerConfig(), testLogger()).Available())
	assert.False(t, NewResilientRetriever(nil, nil, DefaultCircuitBreakerConfig(), testLogger()).Available())
}
