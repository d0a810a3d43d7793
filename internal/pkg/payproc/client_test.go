package payproc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "sk_test", Timeout: 2 * time.Second})
}

func TestClientGetSubscription(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subscriptions/sub_abc" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Fatalf("missing bearer auth header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"sub_abc","status":"active","price_minor":1999,"currency":"USD"}`))
	})

	sub, err := client.GetSubscription(context.Background(), "sub_abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Status != StatusActive || sub.PriceMinor != 1999 {
		t.Fatalf("unexpected subscription %+v", sub)
	}
}

func TestClientErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "not found", status: http.StatusNotFound, want: errs.ErrNotFound},
		{name: "server error", status: http.StatusInternalServerError, want: errs.ErrTransientUpstream},
		{name: "rate limited", status: http.StatusTooManyRequests, want: errs.ErrTransientUpstream},
		{name: "bad request", status: http.StatusBadRequest, want: errs.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := client.GetSubscription(context.Background(), "sub_abc")
			if !errors.Is(err, tt.want) {
				t.Fatalf("status %d: got %v, want %v", tt.status, err, tt.want)
			}
		})
	}
}

func TestClientTimeoutIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.GetSubscription(ctx, "sub_abc")
	if !errors.Is(err, errs.ErrTransientUpstream) {
		t.Fatalf("expected transient error on timeout, got %v", err)
	}
}
