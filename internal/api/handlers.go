package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/nwang783/just-in-case/internal/analysis"
	"github.com/nwang783/just-in-case/internal/engagement"
	"github.com/nwang783/just-in-case/internal/observe"
	"github.com/nwang783/just-in-case/internal/session"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Detail string `json:"detail"`
}

// validationError marks a client error answered with 422.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return validationError{msg: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve validationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Detail: ve.msg})
	case errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "Session not found"})
	case errors.Is(err, session.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errorBody{Detail: err.Error()})
	case errors.Is(err, session.ErrRoomCreation):
		observe.Logger(r.Context()).Error("room creation failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Detail: "Unable to create Daily room at this time"})
	case errors.Is(err, session.ErrUnknownInterview):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Detail: err.Error()})
	default:
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "internal server error"})
	}
}

// decodeStrict decodes a single JSON object into v, rejecting unknown
// fields and trailing data.
func decodeStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid("invalid request body: %v", err)
	}
	if dec.More() {
		return invalid("invalid request body: trailing data")
	}
	return nil
}

// sessionRequest returns r tagged with the session named in its path, and
// that session's id.
func sessionRequest(r *http.Request) (*http.Request, string) {
	id := r.PathValue(observe.SessionIDParam)
	return r.WithContext(observe.WithInterview(r.Context(), observe.Interview{SessionID: id})), id
}

func (s *Server) handleStatuses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]session.Status{"statuses": s.cfg.Sessions.Statuses()})
}

type createSessionRequest struct {
	CompanySlug   string `json:"companySlug"`
	InterviewType string `json:"interviewType"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.CompanySlug = strings.TrimSpace(req.CompanySlug)
	req.InterviewType = strings.TrimSpace(req.InterviewType)
	if req.CompanySlug == "" || req.InterviewType == "" {
		writeError(w, r, invalid("companySlug and interviewType are required"))
		return
	}

	rec, err := s.cfg.Sessions.Create(r.Context(), req.CompanySlug, req.InterviewType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.cfg.Sessions.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []session.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	r, id := sessionRequest(r)
	rec, err := s.cfg.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	r, id := sessionRequest(r)
	rec, err := s.cfg.Sessions.Start(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	r, id := sessionRequest(r)
	rec, err := s.cfg.Sessions.Stop(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// engagementRequest carries exactly one of a measurement computed in the
// browser or the raw detector signals it was derived from.
type engagementRequest struct {
	Measurement *engagement.Measurement `json:"measurement"`
	Raw         *engagement.RawSignals  `json:"raw"`
}

type engagementEvent struct {
	Kind           engagement.EventKind `json:"kind"`
	Summary        string               `json:"summary"`
	Reason         string               `json:"reason,omitempty"`
	State          string               `json:"state,omitempty"`
	Smiling        bool                 `json:"smiling"`
	AttentionScore float64              `json:"attention_score"`
	SmileScore     float64              `json:"smile_score"`
}

type engagementResponse struct {
	Events []engagementEvent `json:"events"`
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	r, id := sessionRequest(r)
	var req engagementRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var m engagement.Measurement
	switch {
	case req.Measurement != nil && req.Raw != nil:
		writeError(w, r, invalid("send either measurement or raw, not both"))
		return
	case req.Measurement != nil:
		m = *req.Measurement
	case req.Raw != nil:
		m = engagement.Derive(*req.Raw, s.cfg.Thresholds)
	default:
		writeError(w, r, invalid("measurement or raw is required"))
		return
	}
	if m.Timestamp < 0 {
		writeError(w, r, invalid("timestamp must not be negative"))
		return
	}

	events, err := s.cfg.Sessions.Engagement(r.Context(), id, m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := engagementResponse{Events: make([]engagementEvent, 0, len(events))}
	for _, ev := range events {
		out := engagementEvent{
			Kind:           ev.Kind,
			Summary:        ev.Summary,
			Reason:         ev.Reason,
			Smiling:        ev.Smiling,
			AttentionScore: ev.AttentionScore,
			SmileScore:     ev.SmileScore,
		}
		if ev.Kind == engagement.KindAttention {
			out.State = ev.State.String()
		}
		resp.Events = append(resp.Events, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := analysis.DefaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, invalid("limit must be an integer"))
			return
		}
		limit = n
	}
	includePending := false
	if v := q.Get("includePending"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, invalid("includePending must be a boolean"))
			return
		}
		includePending = b
	}

	statuses, err := s.cfg.Analyses.List(limit, includePending)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if statuses == nil {
		statuses = []analysis.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": statuses})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue(observe.ConversationIDParam)
	r = r.WithContext(observe.WithInterview(r.Context(), observe.Interview{ConversationID: id}))
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		writeError(w, r, invalid("invalid conversation id"))
		return
	}
	st, ok := s.cfg.Analyses.Status(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "Analysis not found"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleInterviews(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Catalog == nil {
		writeJSON(w, http.StatusOK, map[string]any{"companies": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": s.cfg.Catalog.Companies()})
}
