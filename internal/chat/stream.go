// Package chat streams conversational answers augmented with web search
// evidence.
package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/completion"
	"github.com/sells-group/persona-sim/internal/websearch"
)

const (
	intentMessages = 8
	maxIntentChars = 8000
	referencesSep  = "\n\n---\n\n"
)

// Searcher plans, runs and summarizes web searches. *websearch.Pipeline
// satisfies it.
type Searcher interface {
	Decide(ctx context.Context, intent string, maxQueries int) (bool, []string, string)
	Run(ctx context.Context, queries []string) *websearch.Session
	Synthesize(ctx context.Context, s *websearch.Session, maxDocs int) (string, error)
}

// Service streams answers, consulting the web when the planner asks for it.
type Service struct {
	streamer   completion.Streamer
	search     Searcher
	maxQueries int
}

// Option configures a Service.
type Option func(*Service)

// WithMaxQueries caps the planner's query list.
func WithMaxQueries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxQueries = n
		}
	}
}

// New creates a Service. A nil search streams without web augmentation.
func New(streamer completion.Streamer, search Searcher, opts ...Option) *Service {
	s := &Service{streamer: streamer, search: search, maxQueries: websearch.DefaultMaxQueries}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Intent renders the last messages of a conversation as "role: content"
// lines for the search planner.
func Intent(msgs []completion.Message) string {
	if len(msgs) > intentMessages {
		msgs = msgs[len(msgs)-intentMessages:]
	}
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = fmt.Sprintf("%s: %s", m.Role, m.Content)
	}
	out := strings.Join(lines, "\n")
	if r := []rune(out); len(r) > maxIntentChars {
		out = string(r[:maxIntentChars])
	}
	return out
}

// Stream answers req. When the planner decides to search, the evidence block
// is inserted as a system message after the first message. After the answer,
// a session with documents adds a references content chunk and a Meta chunk
// carrying synthesis, references, queries and doc_count. The stream always
// ends with a Done chunk.
func (s *Service) Stream(ctx context.Context, req completion.Request) (<-chan completion.Chunk, error) {
	var session *websearch.Session
	var queries []string
	if s.search != nil {
		var should bool
		should, queries, _ = s.search.Decide(ctx, Intent(req.Messages), s.maxQueries)
		zap.L().Debug("chat: web search decision", zap.Bool("search", should), zap.Strings("queries", queries))
		if should {
			session = s.search.Run(ctx, queries)
		}
	}

	augmented := req
	if block := websearch.EvidenceBlock(session, websearch.EvidenceMaxDocs); block != "" {
		augmented.Messages = insertAt(req.Messages, 1, completion.System(block))
	}

	upstream, err := s.streamer.Stream(ctx, augmented)
	if err != nil {
		return nil, err
	}

	out := make(chan completion.Chunk, 16)
	go func() {
		defer close(out)
		send := func(c completion.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for c := range upstream {
			if c.Done {
				continue
			}
			if !send(c) {
				return
			}
		}

		if session != nil && len(session.AllDocs()) > 0 {
			synthesis, err := s.search.Synthesize(ctx, session, websearch.SynthesisMaxDocs)
			if err != nil {
				zap.L().Warn("chat: web synthesis failed", zap.Error(err))
			}
			refs := session.ReferencesMarkdown(false)
			if strings.TrimSpace(refs) != "" {
				if !send(completion.Chunk{Content: referencesSep + refs}) {
					return
				}
			}
			meta := map[string]any{
				"synthesis":  synthesis,
				"references": refs,
				"queries":    queries,
				"doc_count":  len(session.AllDocs()),
			}
			if !send(completion.Chunk{Meta: meta}) {
				return
			}
		}
		send(completion.Chunk{Done: true})
	}()
	return out, nil
}

func insertAt(msgs []completion.Message, i int, m completion.Message) []completion.Message {
	if i > len(msgs) {
		i = len(msgs)
	}
	out := make([]completion.Message, 0, len(msgs)+1)
	out = append(out, msgs[:i]...)
	out = append(out, m)
	return append(out, msgs[i:]...)
}
