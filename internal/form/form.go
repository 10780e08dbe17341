// Package form drives the loan-simulation form fields that depend on market
// rates. The form itself lives elsewhere; it is reached through Target.
package form

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"rate-annualizer/internal/rates"
)

// Field and selector names used by the simulation page.
const (
	FieldPeriod    = "period"
	FieldRate      = "rate"
	FieldInflation = "inflation"

	SelectorRate      = "knowsTax"
	SelectorInflation = "knowsInflation"
)

// Knowledge is the value of a "do you know this rate" selector.
type Knowledge string

const (
	Known   Knowledge = "yes"
	Unknown Knowledge = "no"
)

// ParseKnowledge accepts the selector values the page sends.
func ParseKnowledge(s string) (Knowledge, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "sim", "true", "known":
		return Known, nil
	case "no", "nao", "não", "false", "unknown":
		return Unknown, nil
	default:
		return "", &rates.ValidationError{Field: "known", Value: s, Reason: "expected yes or no"}
	}
}

// Status classifies a status message; the page colours it accordingly.
type Status string

const (
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusInvalid Status = "invalid"
)

// Messages shown to the user.
const (
	MsgLoading       = "Buscando taxas históricas acumuladas..."
	MsgLoadingLatest = "Buscando taxas atuais..."
	MsgFailure       = "Não foi possível obter as taxas automaticamente. Por favor, informe manualmente."
	MsgInvalidPeriod = "Por favor, informe um prazo válido em meses."
)

// SuccessMessage renders the status shown after a look-back update.
func SuccessMessage(months int, rate, inflation string) string {
	return fmt.Sprintf("Taxas anualizadas com base nos últimos %d meses: CDI %s e IPCA %s", months, rate, inflation)
}

// CurrentMessage renders the status shown after a current-rates update.
func CurrentMessage(rate, inflation string) string {
	return fmt.Sprintf("Taxas atuais: CDI %s e IPCA acumulado em 12 meses %s", rate, inflation)
}

// ParseMonths reads the look-back field. Non-numeric and non-positive input is
// rejected with a ValidationError.
func ParseMonths(raw string) (int, error) {
	months, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || months <= 0 {
		return 0, &rates.ValidationError{Field: "lookback_months", Value: raw, Reason: "must be a positive whole number of months"}
	}
	return months, nil
}

// Target is the form collaborator.
type Target interface {
	SetField(name, text string)
	SetKnowledge(selector string, k Knowledge)
	ShowStatus(text string, status Status)
}

// State is a point-in-time copy of what a Recorder holds.
type State struct {
	Fields    map[string]string    `json:"fields"`
	Knowledge map[string]Knowledge `json:"knowledge"`
	Message   string               `json:"message,omitempty"`
	Status    Status               `json:"status,omitempty"`
	History   []Status             `json:"-"`
}

// Recorder is an in-memory Target. It backs the CLI and the HTTP API, which hand
// its State to the page.
type Recorder struct {
	mu    sync.Mutex
	state State
}

func NewRecorder() *Recorder {
	return &Recorder{state: State{Fields: map[string]string{}, Knowledge: map[string]Knowledge{}}}
}

func (r *Recorder) SetField(name, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Fields[name] = text
}

func (r *Recorder) SetKnowledge(selector string, k Knowledge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Knowledge[selector] = k
}

func (r *Recorder) ShowStatus(text string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Message = text
	r.state.Status = status
	r.state.History = append(r.state.History, status)
}

// State returns a copy of the recorded form state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := State{
		Fields:    make(map[string]string, len(r.state.Fields)),
		Knowledge: make(map[string]Knowledge, len(r.state.Knowledge)),
		Message:   r.state.Message,
		Status:    r.state.Status,
		History:   append([]Status(nil), r.state.History...),
	}
	for k, v := range r.state.Fields {
		out.Fields[k] = v
	}
	for k, v := range r.state.Knowledge {
		out.Knowledge[k] = v
	}
	return out
}

var _ Target = (*Recorder)(nil)
