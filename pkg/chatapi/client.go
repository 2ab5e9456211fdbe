// Package chatapi is a minimal client for OpenAI-compatible chat completion
// endpoints (DeepSeek, SiliconFlow, Moonshot, DashScope and similar).
package chatapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/persona-sim/internal/resilience"
)

// Client performs chat completion calls against a caller-supplied endpoint.
type Client interface {
	Complete(ctx context.Context, ep Endpoint, req Request) (*Response, error)
	Stream(ctx context.Context, ep Endpoint, req Request) (<-chan StreamEvent, error)
}

// Endpoint is the URL and credentials for one call. The URL is the full
// chat completions URL.
type Endpoint struct {
	URL     string
	Key     string
	Headers map[string]string
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat selects JSON mode.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request is the chat completion payload.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	Stream         bool            `json:"stream"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// JSONObject is the response format that asks for a JSON object reply.
var JSONObject = &ResponseFormat{Type: "json_object"}

// Response is the blocking completion response.
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion choice.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Content returns the first choice's message content.
func (r *Response) Content() (string, error) {
	if r == nil || len(r.Choices) == 0 {
		return "", eris.New("chatapi: response has no choices")
	}
	return r.Choices[0].Message.Content, nil
}

// StreamEvent is one item on a stream channel. Exactly one of Content, Err
// or Done is set.
type StreamEvent struct {
	Content string
	Err     error
	Done    bool
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the per-request timeout (600s by default).
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	http *http.Client
}

// NewClient creates a chat completion client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		http: &http.Client{Timeout: 600 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) post(ctx context.Context, ep Endpoint, req Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "chatapi: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "chatapi: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if ep.Key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.Key)
	}
	for k, v := range ep.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "chatapi: send request")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, resilience.StatusError("chatapi", resp.StatusCode, string(msg))
	}
	return resp, nil
}

func (c *httpClient) Complete(ctx context.Context, ep Endpoint, req Request) (*Response, error) {
	req.Stream = false
	resp, err := c.post(ctx, ep, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := decodedBody(resp)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrap(err, "chatapi: read response")
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrap(err, "chatapi: unmarshal response")
	}
	if len(out.Choices) == 0 {
		return nil, eris.Errorf("chatapi: response has no choices: %s", truncate(string(raw), 200))
	}
	return &out, nil
}

func (c *httpClient) Stream(ctx context.Context, ep Endpoint, req Request) (<-chan StreamEvent, error) {
	req.Stream = true
	resp, err := c.post(ctx, ep, req)
	if err != nil {
		return nil, err
	}
	body, err := decodedBody(resp)
	if err != nil {
		resp.Body.Close() //nolint:errcheck,gosec
		return nil, err
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close() //nolint:errcheck

		send := func(ev StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				content, done, ok := parseLine(line)
				if done {
					send(StreamEvent{Done: true})
					return
				}
				if ok && !send(StreamEvent{Content: content}) {
					return
				}
			}
			if err == io.EOF {
				send(StreamEvent{Done: true})
				return
			}
			if err != nil {
				if send(StreamEvent{Err: eris.Wrap(err, "chatapi: read stream")}) {
					send(StreamEvent{Done: true})
				}
				return
			}
		}
	}()
	return events, nil
}

// parseLine decodes one SSE line. It reports done on the [DONE] sentinel and
// ok when the line carried non-empty delta content.
func parseLine(line []byte) (content string, done, ok bool) {
	if !utf8.Valid(line) {
		return "", false, false
	}
	s := strings.TrimSpace(string(line))
	if !strings.HasPrefix(s, "data:") {
		return "", false, false
	}
	data := strings.TrimSpace(s[len("data:"):])
	if data == "[DONE]" {
		return "", true, false
	}
	if data == "" {
		return "", false, false
	}

	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil || len(chunk.Choices) == 0 {
		return "", false, false
	}
	content = chunk.Choices[0].Delta.Content
	return content, false, content != ""
}

// decodedBody converts a non-UTF-8 response body declared in Content-Type.
func decodedBody(resp *http.Response) (io.Reader, error) {
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return resp.Body, nil
	}
	charset := strings.ToLower(params["charset"])
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return resp.Body, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "chatapi: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(resp.Body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
