package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Sangini-spec/InterVue-X/internal/history"
	"github.com/Sangini-spec/InterVue-X/internal/interview"
	"github.com/Sangini-spec/InterVue-X/internal/observe"
	"github.com/Sangini-spec/InterVue-X/internal/transcript"
)

const defaultHistoryLimit = 50

// startRequest is the body of POST /api/sessions.
type startRequest struct {
	Role            string                   `json:"role"`
	Difficulty      string                   `json:"difficulty"`
	Round           string                   `json:"round"`
	DurationMinutes int                      `json:"duration_minutes"`
	Persona         string                   `json:"persona"`
	ResumeText      string                   `json:"resume_text"`
	Company         string                   `json:"company"`
	JobDescription  string                   `json:"job_description"`
	FirstQuestion   string                   `json:"first_question"`
	Salary          *interview.SalaryContext `json:"salary"`
}

// sessionResponse is a snapshot with the optional live transcript.
type sessionResponse struct {
	interview.Snapshot
	Transcript []transcript.Turn `json:"transcript,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// sessionConfig turns a start request into an engine config using the
// current hot-reloadable defaults.
func (a *App) sessionConfig(req startRequest) (interview.Config, error) {
	d := a.defaults.Load()

	personaID := req.Persona
	if personaID == "" {
		personaID = d.defaultPersona
	}
	persona, err := interview.LookupPersona(d.personas, personaID)
	if err != nil {
		return interview.Config{}, err
	}
	if req.DurationMinutes < 0 {
		return interview.Config{}, &interview.ConfigError{Err: errors.New("duration_minutes must not be negative")}
	}
	duration := d.duration
	if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes) * time.Minute
	}

	return interview.Config{
		Role:           req.Role,
		Difficulty:     req.Difficulty,
		Round:          req.Round,
		Duration:       duration,
		Persona:        persona,
		ResumeText:     req.ResumeText,
		Company:        req.Company,
		JobDescription: req.JobDescription,
		FirstQuestion:  req.FirstQuestion,
		Salary:         req.Salary,
	}, nil
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cfg, err := a.sessionConfig(req)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if err := a.engine.Start(r.Context(), cfg); err != nil {
		respondEngineError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.startTimeout)
	defer cancel()
	snap, err := a.engine.WaitFor(ctx, interview.Active, interview.Failed, interview.Idle)
	switch {
	case err != nil:
		// Still connecting; the client follows progress on /ws.
		respondJSON(w, http.StatusAccepted, snap)
	case snap.State == interview.Active:
		observe.Logger(r.Context()).Info("session started",
			"session_id", snap.ID, "persona", snap.Persona, "round", cfg.Round)
		respondJSON(w, http.StatusCreated, snap)
	case snap.State == interview.Failed:
		respondJSON(w, http.StatusBadGateway, snap)
	default:
		respondError(w, http.StatusConflict, "stopped", "session was stopped while connecting")
	}
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Stop(r.Context()); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *App) handleMute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Muted *bool `json:"muted"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Muted == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", `body must be {"muted": true|false}`)
		return
	}
	if err := a.engine.SetMuted(r.Context(), *body.Muted); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *App) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Reset(r.Context()); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *App) handleCurrent(w http.ResponseWriter, r *http.Request) {
	res := sessionResponse{Snapshot: a.engine.Snapshot()}
	if include, _ := strconv.ParseBool(r.URL.Query().Get("transcript")); include {
		res.Transcript = a.engine.Transcript()
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *App) handleReport(w http.ResponseWriter, _ *http.Request) {
	report, ok := a.engine.Report()
	if !ok {
		respondError(w, http.StatusNotFound, "report_not_ready", "no report for the current session")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (a *App) handleInterviewers(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, a.defaults.Load().personas)
}

func (a *App) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := a.store.List(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("history list failed", "err", err)
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (a *App) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case err != nil:
		observe.Logger(r.Context()).Error("history get failed", "err", err)
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
	default:
		respondJSON(w, http.StatusOK, rec)
	}
}

// respondEngineError maps engine errors onto status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	var cfgErr *interview.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
	case errors.Is(err, interview.ErrNotIdle):
		respondError(w, http.StatusConflict, "session_running", err.Error())
	case errors.Is(err, interview.ErrNotActive):
		respondError(w, http.StatusConflict, "no_active_session", err.Error())
	case errors.Is(err, interview.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
