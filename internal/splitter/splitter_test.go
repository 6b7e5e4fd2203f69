package splitter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/enginebridge/internal/splitter"
)

func TestSplitShortTextReturnsSingleChunk(t *testing.T) {
	text := "hello world"
	chunks := splitter.Split(text, 4000)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplitLongTextEachChunkWithinLimit(t *testing.T) {
	text := strings.Repeat("a", 9000)
	chunks := splitter.Split(text, 4000)
	require.Len(t, chunks, 3)
	assert.Len(t, []rune(chunks[0]), 4000)
	assert.Len(t, []rune(chunks[1]), 4000)
	assert.Len(t, []rune(chunks[2]), 1000)
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	para := strings.Repeat("x", 50)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := splitter.Split(text, len(para)+10)
	require.True(t, len(chunks) >= 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), len(para)+10)
	}
	joined := strings.Join(chunks, "\n\n")
	assert.Equal(t, text, joined)
}

func TestSplitFallsBackToHardCutWhenNoGoodBoundary(t *testing.T) {
	text := strings.Repeat("a", 100) // no newlines anywhere
	chunks := splitter.Split(text, 40)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 40)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestExtractTitlePrefersHeading(t *testing.T) {
	text := "intro\n## My Title\nbody"
	assert.Equal(t, "My Title", splitter.ExtractTitle(text))
}

func TestExtractTitleFallsBackToFirstLine(t *testing.T) {
	text := "Just a short line\nmore body text here"
	assert.Equal(t, "Just a short line", splitter.ExtractTitle(text))
}

func TestExtractTitleFallsBackToTruncation(t *testing.T) {
	text := strings.Repeat("word ", 40)
	title := splitter.ExtractTitle(text)
	assert.True(t, strings.HasSuffix(title, "..."))
}

func TestExtractPreviewStripsMarkdownAndTruncates(t *testing.T) {
	text := "# Heading\n**bold** and _em_ and `code` text " + strings.Repeat("z", 300)
	preview := splitter.ExtractPreview(text)
	assert.LessOrEqual(t, len([]rune(preview)), splitter.SummaryPreviewLen)
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.NotContains(t, preview, "**")
	assert.NotContains(t, preview, "`")
}

func TestPublishSuccessReplacesMessageWithSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/publish", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "markdown", body["type"])
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "abc123", "url": "https://cdn.example/x"})
	}))
	defer srv.Close()

	p := splitter.NewPublisher(srv.URL, "tok", "")
	msg, err := p.Publish(context.Background(), "# Long Post\n\nSome content "+strings.Repeat("y", 3000))
	require.NoError(t, err)
	assert.Contains(t, msg, "Long Post")
	assert.Contains(t, msg, "https://cdn.example/x")
}

func TestPublishUsesPublicBaseWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "abc123", "url": "https://cdn.example/x"})
	}))
	defer srv.Close()

	p := splitter.NewPublisher(srv.URL, "tok", "https://public.example")
	msg, err := p.Publish(context.Background(), "content")
	require.NoError(t, err)
	assert.Contains(t, msg, "https://public.example/p/abc123")
}

func TestPublishFailureReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := splitter.NewPublisher(srv.URL, "tok", "")
	_, err := p.Publish(context.Background(), "content")
	assert.Error(t, err)
}

func TestPublisherDisabledWhenNoURL(t *testing.T) {
	p := splitter.NewPublisher("", "", "")
	assert.False(t, p.Enabled())
	_, err := p.Publish(context.Background(), "content")
	assert.Error(t, err)
}
