// Package openai wraps the official OpenAI Go SDK for chat completions against
// OpenAI and gateways that need SDK-specific behavior.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rotisserie/eris"

	"github.com/sells-group/persona-sim/internal/resilience"
)

// Client performs chat completions through the SDK.
type Client interface {
	Complete(ctx context.Context, ep Endpoint, req Request) (string, error)
	Stream(ctx context.Context, ep Endpoint, req Request) (<-chan StreamEvent, error)
}

// Endpoint is the chat completions URL and credentials for one call.
type Endpoint struct {
	URL     string
	Key     string
	Headers map[string]string
}

// Message is one chat message.
type Message struct {
	Role    string
	Content string
}

// Request is a chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSON        bool
}

// StreamEvent is one item on a stream channel.
type StreamEvent struct {
	Content string
	Err     error
	Done    bool
}

// Option configures the client.
type Option func(*sdkClient)

// WithHTTPClient overrides the http.Client handed to the SDK.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *sdkClient) {
		c.http = hc
	}
}

type sdkClient struct {
	http *http.Client
}

// NewClient creates an SDK-backed chat client. SDK retries are disabled;
// callers apply their own retry policy.
func NewClient(opts ...Option) Client {
	c := &sdkClient{http: &http.Client{Timeout: 600 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL converts a full chat completions URL into the SDK base URL.
func BaseURL(url string) string {
	base := strings.TrimSuffix(strings.TrimRight(url, "/"), "/chat/completions")
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func (c *sdkClient) newSDK(ep Endpoint) sdk.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(ep.Key),
		option.WithHTTPClient(c.http),
		option.WithMaxRetries(0),
	}
	if ep.URL != "" {
		opts = append(opts, option.WithBaseURL(BaseURL(ep.URL)))
	}
	for k, v := range ep.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return sdk.NewClient(opts...)
}

func toParams(req Request) sdk.ChatCompletionNewParams {
	msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, sdk.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, sdk.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, sdk.UserMessage(m.Content))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(req.Model),
		Messages:    msgs,
		Temperature: sdk.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func (c *sdkClient) Complete(ctx context.Context, ep Endpoint, req Request) (string, error) {
	client := c.newSDK(ep)
	resp, err := client.Chat.Completions.New(ctx, toParams(req))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", eris.New("openai: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *sdkClient) Stream(ctx context.Context, ep Endpoint, req Request) (<-chan StreamEvent, error) {
	client := c.newSDK(ep)
	stream := client.Chat.Completions.NewStreaming(ctx, toParams(req))

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		defer stream.Close() //nolint:errcheck

		send := func(ev StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(StreamEvent{Content: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			if !send(StreamEvent{Err: classify(err)}) {
				return
			}
		}
		send(StreamEvent{Done: true})
	}()
	return events, nil
}

// classify maps SDK API errors onto the shared status error so retry and
// breaker policies treat all providers alike.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return resilience.StatusError("openai", apiErr.StatusCode, apiErr.Error())
	}
	return eris.Wrap(err, "openai: chat completion")
}
