package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/specmacro/internal/dag"
	"github.com/leapstack-labs/specmacro/internal/macro"
	"github.com/leapstack-labs/specmacro/internal/shell"
)

// MacroJSON is one definition as returned by the API.
type MacroJSON struct {
	Name          string `json:"name"`
	Opts          string `json:"opts,omitempty"`
	Parameterized bool   `json:"parameterized,omitempty"`
	Body          string `json:"body"`
	Level         int    `json:"level"`
	Scope         string `json:"scope"`
}

// ExpandRequest is the body of POST /api/expand.
type ExpandRequest struct {
	Text string `json:"text"`
	// Defines are applied on top of the server context for this request
	// only, as "name" -> "body" or "name(opts)" -> "body".
	Defines map[string]string `json:"defines,omitempty"`
}

// ExpandResponse is the result of an expansion.
type ExpandResponse struct {
	Output string `json:"output"`
	// Diagnostics holds %{echo}, %{warn} and trace output.
	Diagnostics string `json:"diagnostics,omitempty"`
	Error       string `json:"error,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Revision    uint64 `json:"revision"`
}

// GraphNodeJSON is one macro of the reference graph.
type GraphNodeJSON struct {
	Name    string   `json:"name"`
	Defined bool     `json:"defined"`
	Uses    []string `json:"uses"`
	UsedBy  []string `json:"used_by"`
}

// GraphJSON is the body of GET /api/graph.
type GraphJSON struct {
	Nodes []GraphNodeJSON `json:"nodes"`
	Cycle []string        `json:"cycle,omitempty"`
}

func toJSON(e macro.Entry) MacroJSON {
	return MacroJSON{
		Name:          e.Name,
		Opts:          e.Opts,
		Parameterized: e.Parameterized,
		Body:          e.Body,
		Level:         int(e.Level),
		Scope:         e.Level.String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleListMacros(w http.ResponseWriter, r *http.Request) {
	mc, _ := s.snapshot()
	if err := s.applySession(r, mc); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	entries := mc.Entries()
	out := make([]MacroJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetMacro returns the full shadow chain of one macro, newest first.
func (s *Server) handleGetMacro(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	mc, _ := s.snapshot()
	if err := s.applySession(r, mc); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	chain := mc.Chain(name)
	if len(chain) == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("macro %q is not defined", name))
		return
	}
	out := make([]MacroJSON, 0, len(chain))
	for _, e := range chain {
		out = append(out, toJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req ExpandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	resp, err := s.expand(r, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status := http.StatusOK
	if resp.Error != "" {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// expand runs one request against a private copy of the context. The
// returned error is for malformed requests; expansion failures are
// reported in the response.
func (s *Server) expand(r *http.Request, req ExpandRequest) (ExpandResponse, error) {
	mc, rev := s.snapshot()
	if err := s.applySession(r, mc); err != nil {
		return ExpandResponse{}, err
	}

	names := make([]string, 0, len(req.Defines))
	for name := range req.Defines {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := mc.DefineString(name+" "+req.Defines[name], macro.LevelGlobal); err != nil {
			return ExpandResponse{}, fmt.Errorf("invalid define %q: %w", name, err)
		}
	}

	ctx := r.Context()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	var diag bytes.Buffer
	opts := s.cfg.Expander.Options()
	opts.Diag = &diag
	if !s.cfg.AllowShell {
		opts.Shell = shell.Disabled{}
	}
	out, err := macro.NewExpander(opts).Expand(ctx, mc, req.Text)

	resp := ExpandResponse{Output: out, Diagnostics: diag.String(), Revision: rev}
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = errorKind(err)
	}
	return resp, nil
}

// errorKind names the class of an expansion error for API clients.
func errorKind(err error) string {
	kinds := []struct {
		target error
		kind   string
	}{
		{macro.ErrUnterminated, "unterminated"},
		{macro.ErrBadOption, "bad_option"},
		{macro.ErrRecursionLimit, "recursion_limit"},
		{macro.ErrBufferOverflow, "buffer_overflow"},
		{macro.ErrShellEscape, "shell_escape"},
		{macro.ErrUser, "user"},
		{macro.ErrUndefined, "undefined"},
		{macro.ErrDefine, "define"},
		{macro.ErrScript, "script"},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "canceled"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	return "error"
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	mc, _ := s.snapshot()
	if err := s.applySession(r, mc); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	g := dag.FromContext(mc)

	out := GraphJSON{Nodes: make([]GraphNodeJSON, 0, g.NodeCount())}
	for _, n := range g.GetAllNodes() {
		out.Nodes = append(out.Nodes, GraphNodeJSON{
			Name:    n.ID,
			Defined: n.Defined(),
			Uses:    g.GetParents(n.ID),
			UsedBy:  g.GetChildren(n.ID),
		})
	}
	if hasCycle, path := g.HasCycle(); hasCycle {
		out.Cycle = path
	}
	writeJSON(w, http.StatusOK, out)
}
