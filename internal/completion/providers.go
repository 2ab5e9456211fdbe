package completion

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/persona-sim/internal/modelpool"
	"github.com/sells-group/persona-sim/pkg/anthropic"
	"github.com/sells-group/persona-sim/pkg/chatapi"
	"github.com/sells-group/persona-sim/pkg/openai"
)

// ProviderRequest is a fully resolved request handed to a provider.
type ProviderRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSON        bool
}

// Provider builds the vendor request for one API style and parses its
// response.
type Provider interface {
	Complete(ctx context.Context, cfg *modelpool.APIConfig, req ProviderRequest) (string, error)
	Stream(ctx context.Context, cfg *modelpool.APIConfig, req ProviderRequest) (<-chan Chunk, error)
}

// DefaultProviders returns the capability table keyed by api_style.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		modelpool.StyleOpenAICompat: NewChatAPIProvider(chatapi.NewClient()),
		modelpool.StyleOpenAI:       NewOpenAIProvider(openai.NewClient()),
		modelpool.StyleAnthropic:    NewAnthropicProvider(nil),
	}
}

// forward converts a vendor event channel into a Chunk channel.
func forward[E any](ctx context.Context, in <-chan E, conv func(E) Chunk) <-chan Chunk {
	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		for ev := range in {
			select {
			case out <- conv(ev):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ChatAPIProvider speaks the OpenAI-compatible wire format over plain HTTP.
type ChatAPIProvider struct {
	client chatapi.Client
}

// NewChatAPIProvider creates the openai_compat strategy.
func NewChatAPIProvider(client chatapi.Client) *ChatAPIProvider {
	return &ChatAPIProvider{client: client}
}

func (p *ChatAPIProvider) request(req ProviderRequest) chatapi.Request {
	msgs := make([]chatapi.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = chatapi.Message{Role: m.Role, Content: m.Content}
	}
	out := chatapi.Request{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		out.ResponseFormat = chatapi.JSONObject
	}
	return out
}

func endpoint(cfg *modelpool.APIConfig) chatapi.Endpoint {
	return chatapi.Endpoint{URL: cfg.URL, Key: cfg.Key, Headers: cfg.Headers}
}

// Complete implements Provider.
func (p *ChatAPIProvider) Complete(ctx context.Context, cfg *modelpool.APIConfig, req ProviderRequest) (string, error) {
	resp, err := p.client.Complete(ctx, endpoint(cfg), p.request(req))
	if err != nil {
		return "", err
	}
	return resp.Content()
}

// Stream implements Provider.
func (p *ChatAPIProvider) Stream(ctx context.Context, cfg *modelpool.APIConfig, req ProviderRequest) (<-chan Chunk, error) {
	events, err := p.client.Stream(ctx, endpoint(cfg), p.request(req))
	if err != nil {
		return nil, err
	}
	return forward(ctx, events, func(ev chatapi.StreamEvent) Chunk {
		return Chunk{Content: ev.Content, Error: errString(ev.Err), Done: ev.Done}
	}), nil
}

// OpenAIProvider uses the official OpenAI SDK.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates the openai strategy.
func NewOpenAIProvider(client openai.Client) *OpenAIProvider {
	return &OpenAIProvider{client: client}
}

func (p *OpenAIProvider) request(req ProviderRequest) openai.Request {
	msgs := make([]openai.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.Message{Role: m.Role, Content: m.Content}
	}
	return openai.Request{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		JSON:        req.JSON,
	}
}

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, cfg *modelpool.APIConfig, req ProviderRequest) (string, error) {
	return p.client.Complete(ctx, openai.Endpoint{URL: cfg.URL, Key: cfg.Key, Headers: cfg.Headers}, p.request(req))
}

// Stream implements Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, cfg *modelpool.APIConfig, req ProviderRequest) (<-chan Chunk, error) {
	events, err := p.client.Stream(ctx, openai.Endpoint{URL: cfg.URL, Key: cfg.Key, Headers: cfg.Headers}, p.request(req))
	if err != nil {
		return nil, err
	}
	return forward(ctx, events, func(ev openai.StreamEvent) Chunk {
		return Chunk{Content: ev.Content, Error: errString(ev.Err), Done: ev.Done}
	}), nil
}

// AnthropicFactory builds an Anthropic client for one key.
type AnthropicFactory func(cfg *modelpool.APIConfig) anthropic.Client

// AnthropicProvider uses the Anthropic SDK. System messages become cached
// system blocks; JSON mode is requested through the system prompt since the
// Messages API has no response_format.
type AnthropicProvider struct {
	factory AnthropicFactory
}

const jsonInstruction = "Respond with a single valid JSON value and nothing else."

// NewAnthropicProvider creates the anthropic strategy. A nil factory builds
// SDK clients from the selected key, URL and headers.
func NewAnthropicProvider(factory AnthropicFactory) *AnthropicProvider {
	if factory == nil {
		factory = func(cfg *modelpool.APIConfig) anthropic.Client {
			var opts []anthropic.Option
			if cfg.URL != "" {
				opts = append(opts, anthropic.WithBaseURL(cfg.URL))
			}
			if len(cfg.Headers) > 0 {
				opts = append(opts, anthropic.WithHeaders(cfg.Headers))
			}
			return anthropic.NewClient(cfg.Key, opts...)
		}
	}
	return &AnthropicProvider{factory: factory}
}

func (p *AnthropicProvider) request(req ProviderRequest) anthropic.MessageRequest {
	var system []string
	var msgs []anthropic.Message
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, anthropic.Message{Role: m.Role, Content: m.Content})
	}
	if req.JSON {
		system = append(system, jsonInstruction)
	}
	temp := req.Temperature
	if temp > 1 {
		temp = 1
	}
	return anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   int64(req.MaxTokens),
		System:      anthropic.CachedSystemBlocks(strings.Join(system, "\n\n")),
		Messages:    msgs,
		Temperature: &temp,
	}
}

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, cfg *modelpool.APIConfig, req ProviderRequest) (string, error) {
	resp, err := p.factory(cfg).CreateMessage(ctx, p.request(req))
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(req.Model, "completion")
	text := resp.Text()
	if text == "" {
		return "", eris.New("anthropic: response has no text content")
	}
	return text, nil
}

// Stream implements Provider.
func (p *AnthropicProvider) Stream(ctx context.Context, cfg *modelpool.APIConfig, req ProviderRequest) (<-chan Chunk, error) {
	events, err := p.factory(cfg).StreamMessage(ctx, p.request(req))
	if err != nil {
		return nil, err
	}
	return forward(ctx, events, func(ev anthropic.StreamEvent) Chunk {
		return Chunk{Content: ev.Content, Error: errString(ev.Err), Done: ev.Done}
	}), nil
}
