package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusComplete = "complete"
	StatusErrored  = "errored"
)

// WatchKey identifies one refreshed series/strategy/look-back combination.
type WatchKey struct {
	Series         string
	Strategy       string
	LookbackMonths int
}

// RateSnapshot is one persisted annualization result. Errored snapshots carry no
// value and keep the failure message instead.
type RateSnapshot struct {
	ID             int64
	AsOf           time.Time
	Series         string
	SGSCode        int
	Strategy       string
	LookbackMonths int
	Basis          string
	ValuePct       *decimal.Decimal
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	Observations   int
	Status         string
	Error          *string
	CreatedAt      time.Time
}

// Key returns the watch the snapshot belongs to.
func (s RateSnapshot) Key() WatchKey {
	return WatchKey{Series: s.Series, Strategy: s.Strategy, LookbackMonths: s.LookbackMonths}
}

// AlertRecord captures an emitted rate-change alert for auditing.
type AlertRecord struct {
	ID             int64
	AsOf           time.Time
	Series         string
	Strategy       string
	LookbackMonths int
	PreviousPct    decimal.Decimal
	CurrentPct     decimal.Decimal
	ChangePP       decimal.Decimal
	ThresholdPP    decimal.Decimal
	Direction      string
	Channels       []string
	CreatedAt      time.Time
}
