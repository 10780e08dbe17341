package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func sampleNotification() Notification {
	return Notification{
		AsOf:           time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Series:         "cdi",
		Code:           12,
		Strategy:       "compounding",
		LookbackMonths: 12,
		PreviousAsOf:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PreviousPct:    decimal.RequireFromString("14.15"),
		CurrentPct:     decimal.RequireFromString("14.9"),
		ChangePP:       decimal.RequireFromString("0.75"),
		ThresholdPP:    decimal.RequireFromString("0.25"),
		Direction:      "up",
		Channels:       []string{"telegram"},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL+"/", time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "Current: 14,90 %") {
		t.Fatalf("text missing current value: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("ok=false should fail with description, got %v", err)
	}
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("non-2xx should fail")
	}
}

func TestRenderMessage(t *testing.T) {
	note := sampleNotification()
	note.Basis = "period-average"
	msg := RenderMessage(note)

	for _, want := range []string{
		"Series: cdi (SGS 12)",
		"Strategy: compounding, 12 months",
		"As of: 02/03/2026",
		"Previous: 14,15 % (01/03/2026)",
		"Change: 0.75 pp (threshold 0.25 pp)",
		"period average",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestDirection(t *testing.T) {
	cases := map[string]string{"0.5": "up", "-0.01": "down", "0": "flat"}
	for in, want := range cases {
		if got := Direction(decimal.RequireFromString(in)); got != want {
			t.Errorf("Direction(%s) = %s, want %s", in, got, want)
		}
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
