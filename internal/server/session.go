package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/leapstack-labs/specmacro/internal/macro"
)

const (
	sessionName = "specmacro"
	definesKey  = "defines"
)

// SessionJSON lists the definitions a client added to its session. They
// are applied at global level on top of the server context for every
// request carrying the session cookie.
type SessionJSON struct {
	Defines []string `json:"defines"`
}

type defineRequest struct {
	Definition string `json:"definition"`
}

// session returns the request's session. A cookie that no longer decodes,
// for example after a key change, starts a fresh session.
func (s *Server) session(r *http.Request) *sessions.Session {
	sess, err := s.sessions.Get(r, sessionName)
	if err != nil {
		s.logger.Debug("discarding session", "error", err)
	}
	return sess
}

func sessionDefines(sess *sessions.Session) []string {
	raw, _ := sess.Values[definesKey].(string)
	if raw == "" {
		return nil
	}
	var defs []string
	if err := json.Unmarshal([]byte(raw), &defs); err != nil {
		return nil
	}
	return defs
}

func saveDefines(w http.ResponseWriter, r *http.Request, sess *sessions.Session, defs []string) error {
	if len(defs) == 0 {
		delete(sess.Values, definesKey)
	} else {
		raw, err := json.Marshal(defs)
		if err != nil {
			return err
		}
		sess.Values[definesKey] = string(raw)
	}
	return sess.Save(r, w)
}

// applySession pushes the session's definitions into mc.
func (s *Server) applySession(r *http.Request, mc *macro.Context) error {
	for _, d := range sessionDefines(s.session(r)) {
		if err := mc.DefineString(d, macro.LevelGlobal); err != nil {
			return fmt.Errorf("session define %q: %w", d, err)
		}
	}
	return nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	defs := sessionDefines(s.session(r))
	if defs == nil {
		defs = []string{}
	}
	writeJSON(w, http.StatusOK, SessionJSON{Defines: defs})
}

func (s *Server) handleSessionDefine(w http.ResponseWriter, r *http.Request) {
	var req defineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if _, _, err := macro.ParseDefinition(req.Definition); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess := s.session(r)
	defs := append(sessionDefines(sess), req.Definition)
	if err := saveDefines(w, r, sess, defs); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to save session: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, SessionJSON{Defines: defs})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if err := saveDefines(w, r, sess, nil); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to save session: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, SessionJSON{Defines: []string{}})
}
