package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeProvider struct {
	status Status
}

func (f fakeProvider) Status() Status { return f.status }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	h := NewHandlers(fakeProvider{}, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body[status] = %q, want %q", body["status"], "ok")
	}
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Status
	}{
		{
			name: "no market running",
			in:   Status{Running: false},
		},
		{
			name: "market running",
			in: Status{
				Running:     true,
				Slug:        "btc-up-or-down-2pm-et",
				ConditionID: "0xabc",
				Expiry:      time.Unix(1700000000, 0).UTC(),
				State:       "balanced",
				NetDiff:     12.5,
				CanOpen:     true,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHandlers(fakeProvider{status: tt.in}, discardLogger())
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			rec := httptest.NewRecorder()

			h.HandleStatus(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			var got Status
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if got.Running != tt.in.Running || got.Slug != tt.in.Slug || got.State != tt.in.State || got.NetDiff != tt.in.NetDiff || got.CanOpen != tt.in.CanOpen {
				t.Fatalf("status = %+v, want %+v", got, tt.in)
			}
		})
	}
}
