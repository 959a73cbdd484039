package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/leaplint/internal/session"
	"github.com/leapstack-labs/leaplint/pkg/core"
)

// maxBodySize bounds request bodies; style sheets and rule sources are small.
const maxBodySize = 4 << 20

type handlers struct {
	srv *Server
}

// StateResponse is the JSON form of a session snapshot.
type StateResponse struct {
	session.State
	Rejections   []string `json:"rejections"`
	LastError    string   `json:"last_error,omitempty"`
	EnabledRules int      `json:"enabled_rules"`
}

func newStateResponse(st session.State) StateResponse {
	resp := StateResponse{
		State:        st,
		Rejections:   make([]string, 0, len(st.Rejections)),
		EnabledRules: st.EnabledCount(),
	}
	for _, err := range st.Rejections {
		resp.Rejections = append(resp.Rejections, err.Error())
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	if resp.Rules == nil {
		resp.Rules = []session.RuleState{}
	}
	if resp.Diagnostics == nil {
		resp.Diagnostics = []core.Diagnostic{}
	}
	return resp
}

// RulesResponse lists rules with the enabled count.
type RulesResponse struct {
	Rules   []session.RuleState `json:"rules"`
	Enabled int                 `json:"enabled"`
	Total   int                 `json:"total"`
}

// RuleFlagRequest sets a rule flag.
type RuleFlagRequest struct {
	Enabled *bool `json:"enabled"`
}

// RuleFlagResponse reports a rule flag after a change.
type RuleFlagResponse struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// SourceRequest replaces the source text.
type SourceRequest struct {
	Source string `json:"source"`
}

// DiagnosticsResponse carries the diagnostics of the last applied run.
type DiagnosticsResponse struct {
	Linted       bool              `json:"linted"`
	Token        uint64            `json:"token"`
	Diagnostics  []core.Diagnostic `json:"diagnostics"`
	Errors       int               `json:"errors"`
	Warnings     int               `json:"warnings"`
	LastError    string            `json:"last_error,omitempty"`
	EnabledRules int               `json:"enabled_rules"`
}

// CustomRuleRequest adds a custom rule.
type CustomRuleRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// CustomRulesResponse lists stored custom rules.
type CustomRulesResponse struct {
	Rules      []session.CustomRule `json:"rules"`
	Rejections []string             `json:"rejections"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Rule  string `json:"rule,omitempty"`
	Field string `json:"field,omitempty"`
}

func (h *handlers) getState(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w)
	if !ok {
		return
	}
	st, err := sess.State(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(st))
}

func (h *handlers) listRules(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w)
	if !ok {
		return
	}
	st, err := sess.State(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	rules := st.Rules
	if rules == nil {
		rules = []session.RuleState{}
	}
	writeJSON(w, http.StatusOK, RulesResponse{Rules: rules, Enabled: st.EnabledCount(), Total: len(st.Rules)})
}

func (h *handlers) setRule(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w)
	if !ok {
		return
	}
	var req RuleFlagRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "enabled is required", Field: "enabled"})
		return
	}

	id := chi.URLParam(r, "id")
	if err := sess.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RuleFlagResponse{ID: id, Enabled: *req.Enabled})
}

func (h *handlers) toggleRule(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	enabled, err := sess.Toggle(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RuleFlagResponse{ID: id, Enabled: enabled})
}

// setSource accepts {"source": "..."} or, for any other content type, the
// raw style sheet. With ?wait=true it answers once the run has finished.
func (h *handlers) setSource(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w)
	if !ok {
		return
	}

	var source string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req SourceRequest
		if !decode(w, r, &req) {
			return
		}
		source = req.Source
	} else {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read body: " + err.Error()})
			return
		}
		source = string(data)
	}

	if err := sess.SetSource(r.Context(), source); err != nil {
		writeError(w, err)
		return
	}
	if !wantWait(r) {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	st, err := sess.WaitRun(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDiagnosticsResponse(st))
}

func (h *handlers) getDiagnostics(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w)
	if !ok {
		return
	}
	var (
		st  session.State
		err error
	)
	if wantWait(r) {
		st, err = sess.WaitRun(r.Context())
	} else {
		st, err = sess.State(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDiagnosticsResponse(st))
}

func newDiagnosticsResponse(st session.State) DiagnosticsResponse {
	resp := DiagnosticsResponse{
		Linted:       st.HasRun,
		Token:        st.LastRunToken,
		Diagnostics:  st.Diagnostics,
		Errors:       st.ErrorCount(),
		EnabledRules: st.EnabledCount(),
	}
	if resp.Diagnostics == nil {
		resp.Diagnostics = []core.Diagnostic{}
	}
	resp.Warnings = len(resp.Diagnostics) - resp.Errors
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	return resp
}

func (h *handlers) listCustomRules(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w)
	if !ok {
		return
	}
	rules, err := sess.CustomRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := sess.State(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := CustomRulesResponse{Rules: rules, Rejections: make([]string, 0, len(st.Rejections))}
	for _, err := range st.Rejections {
		resp.Rejections = append(resp.Rejections, err.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) addCustomRule(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w)
	if !ok {
		return
	}
	var req CustomRuleRequest
	if !decode(w, r, &req) {
		return
	}
	desc, err := sess.AddCustomRule(r.Context(), req.Name, req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, desc)
}

func (h *handlers) removeCustomRule(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w)
	if !ok {
		return
	}
	if err := sess.RemoveCustomRule(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	sess, err := h.srv.Reload(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := sess.WaitReady(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	st, err := sess.State(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(st))
}

// events streams the session state as server-sent events: one "state" event
// on connect and one after every change.
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	updates, unsubscribe := h.srv.notifier.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	var id uint64
	send := func() bool {
		sess, err := h.srv.Session()
		if err != nil {
			return true
		}
		st, err := sess.State(ctx)
		if err != nil {
			// The session is being replaced; the next ping carries the new one.
			return ctx.Err() == nil
		}
		data, err := json.Marshal(newStateResponse(st))
		if err != nil {
			return false
		}
		id++
		if _, err := fmt.Fprintf(w, "id: %s\nevent: state\ndata: %s\n\n", strconv.FormatUint(id, 10), data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok || !send() {
				return
			}
		}
	}
}

func (h *handlers) session(w http.ResponseWriter) (*session.Session, bool) {
	sess, err := h.srv.Session()
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func wantWait(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return v
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps session errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		verr    *core.ValidationError
		cerr    *core.CollisionError
		loadErr *core.EngineLoadError
	)
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
		resp.Rule, resp.Field = verr.RuleName, verr.Field
	case errors.As(err, &cerr):
		status = http.StatusConflict
		resp.Rule = cerr.ID
	case errors.Is(err, session.ErrUnknownRule), errors.Is(err, session.ErrUnknownCustomRule):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrClosed),
		errors.Is(err, ErrNotStarted), errors.As(err, &loadErr):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
