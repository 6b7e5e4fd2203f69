package splitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const publishTimeout = 10 * time.Second

// Publisher posts oversize outbound content to an external publisher and
// returns a short summary message to deliver in its place.
type Publisher struct {
	BaseURL   string
	Token     string
	PublicURL string
	client    *http.Client
}

// NewPublisher builds a Publisher. baseURL == "" disables publishing.
func NewPublisher(baseURL, token, publicURL string) *Publisher {
	return &Publisher{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		PublicURL: strings.TrimRight(publicURL, "/"),
		client:    &http.Client{Timeout: publishTimeout},
	}
}

// Enabled reports whether a publisher URL is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && p.BaseURL != ""
}

type publishRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

type publishResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Publish posts message as markdown content and returns the fallback
// summary text to deliver instead. It returns an error for any failure
// (network, timeout, non-2xx, bad JSON) - callers must fall through to
// chunked delivery of the original message on error.
func (p *Publisher) Publish(ctx context.Context, message string) (string, error) {
	if !p.Enabled() {
		return "", fmt.Errorf("splitter: no publisher configured")
	}
	title := ExtractTitle(message)
	preview := ExtractPreview(message)
	payload, err := json.Marshal(publishRequest{
		Title:   title,
		Body:    message,
		Type:    "markdown",
		Summary: preview,
	})
	if err != nil {
		return "", fmt.Errorf("splitter: marshal publish request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/publish", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("splitter: build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("splitter: publish request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("splitter: publish returned status %d", resp.StatusCode)
	}
	var out publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("splitter: decode publish response: %w", err)
	}

	publicURL := out.URL
	if p.PublicURL != "" {
		publicURL = p.PublicURL + "/p/" + out.ID
	}
	return fmt.Sprintf("%s\n\n%s\n\nLire la suite : %s", title, preview, publicURL), nil
}
