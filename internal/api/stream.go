package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/completion"
)

const estimatorTemperature = 0.2

var (
	estimateField  = regexp.MustCompile(`"token_estimate"\s*:\s*(\d+)`)
	estimateNumber = regexp.MustCompile(`(\d{2,})`)
)

type chatRequest struct {
	Messages []completion.Message `json:"messages"`
	Model    string               `json:"model"`
}

type estimateRequest struct {
	ProductDescription string               `json:"product_description"`
	Conversation       []completion.Message `json:"conversation"`
	NumPersonas        int                  `json:"num_personas"`
	NumSimulations     int                  `json:"num_simulations"`
}

// sse writes server-sent events, one JSON payload per data line.
type sse struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSE(w http.ResponseWriter) (*sse, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sse{w: w, f: f}, true
}

func (s *sse) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.raw(string(b))
}

func (s *sse) raw(data string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sse) done() { _ = s.raw("[DONE]") }

// chatStream relays a web-augmented chat answer. Search metadata is sent as
// a web_search_data event.
func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "messages are required")
		return
	}

	ch, err := s.chat.Stream(r.Context(), completion.Request{Messages: req.Messages, Model: req.Model})
	if err != nil {
		zap.L().Warn("api: chat stream failed", zap.Error(err))
		out, ok := newSSE(w)
		if !ok {
			return
		}
		_ = out.send(map[string]string{"error": err.Error()})
		out.done()
		return
	}

	out, ok := newSSE(w)
	if !ok {
		return
	}
	for c := range ch {
		var werr error
		switch {
		case c.Done:
			continue
		case c.Error != "":
			werr = out.send(map[string]string{"error": c.Error})
		case c.Meta != nil:
			werr = out.send(map[string]any{"web_search_data": c.Meta})
		default:
			werr = out.send(map[string]string{"content": c.Content})
		}
		if werr != nil {
			zap.L().Debug("api: client went away", zap.Error(werr))
			return
		}
	}
	out.done()
}

// tokenEstimate asks a model for a token estimate and emits the first number
// it can read from the streamed answer.
func (s *Server) tokenEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NumPersonas <= 0 {
		req.NumPersonas = defaultInlinePersonas
	}
	if req.NumSimulations <= 0 {
		req.NumSimulations = defaultInlineSimulations
	}
	desc := strings.TrimSpace(req.ProductDescription)
	if desc == "" {
		desc = ExtractProductDescription(req.Conversation)
	}

	msgs := []completion.Message{
		completion.System(s.prompts.TokenEstimator),
		completion.User(s.estimateContext(desc, req)),
	}

	out, ok := newSSE(w)
	if !ok {
		return
	}
	defer out.done()

	ch, err := s.streamer.Stream(r.Context(), completion.Request{Messages: msgs, Temperature: estimatorTemperature})
	if err != nil {
		_ = out.send(map[string]string{"error": err.Error()})
		return
	}

	var buf strings.Builder
	sent := false
	for c := range ch {
		if c.Error != "" && !sent {
			_ = out.send(map[string]string{"error": c.Error})
			continue
		}
		if sent || c.Content == "" {
			continue
		}
		buf.WriteString(c.Content)
		if n := ParseEstimate(buf.String()); n > 0 {
			_ = out.send(map[string]int{"estimate": n})
			sent = true
		}
	}
	if !sent {
		_ = out.send(map[string]string{"error": "could not parse token estimate"})
	}
}

// ParseEstimate reads a token estimate from partial model output: the
// token_estimate field when present, otherwise the first number of two or
// more digits. It returns 0 when nothing matches yet.
func ParseEstimate(text string) int {
	m := estimateField.FindStringSubmatch(text)
	if m == nil {
		m = estimateNumber.FindStringSubmatch(text)
	}
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) estimateContext(desc string, req estimateRequest) string {
	if desc == "" {
		desc = "not provided"
	}
	conv, err := json.Marshal(req.Conversation)
	if err != nil {
		conv = []byte("[]")
	}
	p := s.prompts

	var b strings.Builder
	fmt.Fprintf(&b, "[Product description]\n%s\n\n", desc)
	fmt.Fprintf(&b, "[Conversation]\n%s\n\n", conv)
	fmt.Fprintf(&b, "[Task parameters]\n- personas: %d\n- simulations per persona: %d\n\n", req.NumPersonas, req.NumSimulations)
	b.WriteString("[System prompts]\n")
	for _, sp := range []struct{ name, text string }{
		{"persona", p.Persona},
		{"persona_reviewer", p.PersonaReviewer},
		{"simulation", p.Simulation},
		{"inquiry", p.Inquiry},
		{"refined", p.Refined},
		{"ad_generation", p.AdGeneration},
		{"ad_reviewer", p.AdReviewer},
		{"product_optimization", p.ProductOptimization},
	} {
		fmt.Fprintf(&b, "%s:\n%s\n\n", sp.name, sp.text)
	}
	return strings.TrimSpace(b.String())
}
