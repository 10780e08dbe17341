package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"rate-annualizer/internal/form"
	"rate-annualizer/internal/rates"
	"rate-annualizer/internal/service"
	"rate-annualizer/internal/version"
)

type annualizedResponse struct {
	Series       string `json:"series"`
	Code         int    `json:"code"`
	Strategy     string `json:"strategy"`
	Basis        string `json:"basis"`
	ValuePct     string `json:"value_pct"`
	Formatted    string `json:"formatted"`
	Start        string `json:"start,omitempty"`
	End          string `json:"end,omitempty"`
	LastDate     string `json:"last_date,omitempty"`
	Observations int    `json:"observations"`
	AsOf         string `json:"as_of,omitempty"`
}

func toResponse(a rates.Annualized) annualizedResponse {
	return annualizedResponse{
		Series:       string(a.Series),
		Code:         a.Code,
		Strategy:     a.Strategy,
		Basis:        string(a.Basis),
		ValuePct:     a.Value.String(),
		Formatted:    rates.FormatPercent(a.Value),
		Start:        formatDate(a.Start),
		End:          formatDate(a.End),
		LastDate:     formatDate(a.LastDate),
		Observations: a.Observations,
		AsOf:         formatDate(a.AsOf),
	}
}

type formResponse struct {
	Result *form.Result `json:"result,omitempty"`
	State  form.State   `json:"state"`
	Error  string       `json:"error,omitempty"`
}

type updateRequest struct {
	Months json.RawMessage `json:"months"`
	Mode   string          `json:"mode"`
}

type toggleRequest struct {
	Selector string          `json:"selector"`
	Known    json.RawMessage `json:"known"`
	Months   json.RawMessage `json:"months"`
	Mode     string          `json:"mode"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          version.Get(),
		"inflight_updates": s.updater.Tokens().InFlight(),
	})
}

func (s *Server) handleAnnualized(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	strategy := s.strategy
	if name := q.Get("strategy"); name != "" {
		parsed, err := rates.ParseStrategy(name)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		strategy = parsed
	}

	months := s.lookback
	if raw := q.Get("months"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, form.MsgInvalidPeriod)
			return
		}
		months = parsed
	}

	series := q.Get("series")
	if series == "" {
		series = string(rates.CDI)
	}

	result, err := s.rates.Annualize(r.Context(), service.Request{Series: series, LookbackMonths: months, Strategy: strategy})
	if err != nil {
		s.writeRateError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponse(result))
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	var policy service.Policy
	if name := r.URL.Query().Get("policy"); name != "" {
		parsed, err := service.ParsePolicy(name)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		policy = parsed
	}

	result, err := s.rates.CurrentCDI(r.Context(), policy)
	if err != nil {
		s.writeRateError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponse(result))
}

func (s *Server) handleTrailingInflation(w http.ResponseWriter, r *http.Request) {
	result, err := s.rates.TrailingInflation(r.Context())
	if err != nil {
		s.writeRateError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponse(result))
}

func (s *Server) handleFormUpdate(w http.ResponseWriter, r *http.Request) {
	var body updateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode, err := form.ParseMode(body.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := form.NewRecorder()
	res, err := s.updater.UpdateMode(r.Context(), clientKey(r), mode, parseMonths(body.Months), rec)
	s.writeForm(w, &res, rec, err)
}

func (s *Server) handleFormToggle(w http.ResponseWriter, r *http.Request) {
	var body toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Selector == "" {
		s.writeError(w, http.StatusBadRequest, "selector is required")
		return
	}
	known, err := form.ParseKnowledge(rawString(body.Known))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := form.ParseMode(body.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := form.NewRecorder()
	var res *form.Result
	toggle := form.FetchWhenUnknown(form.BaseToggle(rec), func(ctx context.Context) error {
		out, err := s.updater.UpdateMode(ctx, clientKey(r), mode, parseMonths(body.Months), rec)
		res = &out
		return err
	})

	err = toggle(r.Context(), body.Selector, known)
	s.writeForm(w, res, rec, err)
}

func (s *Server) writeForm(w http.ResponseWriter, res *form.Result, rec *form.Recorder, err error) {
	resp := formResponse{Result: res, State: rec.State()}
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, form.ErrSuperseded):
		status = http.StatusConflict
		resp.Result = nil
		resp.Error = err.Error()
	case rates.IsValidation(err):
		status = http.StatusBadRequest
		resp.Error = err.Error()
	default:
		status = http.StatusBadGateway
		resp.Error = err.Error()
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeRateError(w http.ResponseWriter, err error) {
	if rates.IsValidation(err) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Warn().Err(err).Msg("rate lookup failed")
	s.writeJSON(w, http.StatusBadGateway, map[string]string{
		"error":   err.Error(),
		"message": form.MsgFailure,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// clientKey scopes request tokens. Without a client header each request gets
// its own key, so unrelated callers never supersede each other.
func clientKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ClientHeader)); id != "" {
		return id
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		return "request/" + id
	}
	return "anonymous"
}

// parseMonths accepts a JSON number or string. Anything unusable maps to 0,
// which the updater reports as an invalid period.
func parseMonths(raw json.RawMessage) int {
	months, err := form.ParseMonths(rawString(raw))
	if err != nil {
		return 0
	}
	return months
}

func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return rates.FormatSGSDate(t)
}
