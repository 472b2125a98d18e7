package server

import (
	"net/http"

	"github.com/starfederation/datastar-go/datastar"
)

// PlaygroundSignals are the Datastar signals the playground exchanges.
type PlaygroundSignals struct {
	Text        string `json:"text"`
	Output      string `json:"output"`
	Diagnostics string `json:"diagnostics"`
	Error       string `json:"error"`
	Revision    uint64 `json:"revision"`
}

// handlePlaygroundExpand expands the text signal and patches the result
// signals back.
func (s *Server) handlePlaygroundExpand(w http.ResponseWriter, r *http.Request) {
	// Read signals before creating the SSE, which consumes the request body
	var signals PlaygroundSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		sse := datastar.NewSSE(w, r)
		_ = sse.MarshalAndPatchSignals(map[string]string{"error": "failed to read signals: " + err.Error()})
		return
	}

	resp, err := s.expand(r, ExpandRequest{Text: signals.Text})

	sse := datastar.NewSSE(w, r)
	if err != nil {
		_ = sse.MarshalAndPatchSignals(map[string]string{"error": err.Error()})
		return
	}
	if err := sse.MarshalAndPatchSignals(PlaygroundSignals{
		Text:        signals.Text,
		Output:      resp.Output,
		Diagnostics: resp.Diagnostics,
		Error:       resp.Error,
		Revision:    resp.Revision,
	}); err != nil {
		_ = sse.ConsoleError(err)
	}
}

// handlePlaygroundUpdates is the long-lived SSE endpoint that tells the
// playground which context revision is current. It sends the current
// revision at once and again after every reload.
func (s *Server) handlePlaygroundUpdates(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	updates := s.notifier.subscribe()
	defer s.notifier.unsubscribe(updates)

	send := func() error {
		s.mu.RLock()
		sig := map[string]any{"revision": s.revision, "macros": s.macros.Len()}
		s.mu.RUnlock()
		return sse.MarshalAndPatchSignals(sig)
	}
	if err := send(); err != nil {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			if err := send(); err != nil {
				return
			}
		}
	}
}
