// Package llamacpp talks to a llama.cpp server through its OpenAI-compatible
// chat endpoint.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultURL     = "http://localhost:8080"
	requestTimeout = 2 * time.Minute
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type message struct {
	Role    string `json:"role"`
	Content []part `json:"content"`
}

type part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// chatResponse keeps only the reply; content is a string or a list of parts
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = defaultURL
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("invalid server URL %q: only http and https are supported", serverURL)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

// Ask sends the prompt and the image to /v1/chat/completions and returns the
// first choice's text
func (c *Client) Ask(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	content := []part{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		content = append(content, part{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:" + mimeType(imgB64) + ";base64," + imgB64},
		})
	}

	body, err := c.post(ctx, "/v1/chat/completions", chatRequest{
		Model:       model,
		Messages:    []message{{Role: "user", Content: content}},
		Temperature: 0.2,
		MaxTokens:   256,
	})
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	if text := replyText(resp.Choices[0].Message.Content); text != "" {
		return text, nil
	}
	return "", errors.New("empty response from llama.cpp server")
}

func replyText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []part
	if err := json.Unmarshal(raw, &parts); err == nil {
		for _, p := range parts {
			if p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

// mimeType recognises PNG by its base64 signature and assumes JPEG otherwise
func mimeType(imgB64 string) string {
	if strings.HasPrefix(imgB64, "iVBORw0KGgo") {
		return "image/png"
	}
	return "image/jpeg"
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
