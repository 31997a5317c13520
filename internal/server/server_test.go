package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestWebhookAllowlist(t *testing.T) {
	h := NewRouter(Options{
		WebhookPath: "/payment/cryptobot-status",
		Webhook:     okHandler(),
		AllowedIPs:  []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
	})

	req := httptest.NewRequest(http.MethodPost, "/payment/cryptobot-status", nil)
	req.RemoteAddr = "10.2.3.4:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/payment/cryptobot-status", nil)
	req.RemoteAddr = "8.8.8.8:5555"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/payment/cryptobot-status", nil)
	req.RemoteAddr = "10.2.3.4:5555"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookWithoutAllowlist(t *testing.T) {
	h := NewRouter(Options{WebhookPath: "/hook", Webhook: okHandler()})

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.RemoteAddr = "8.8.8.8:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	healthy := NewRouter(Options{Checks: map[string]Check{
		"postgres": func(context.Context) error { return nil },
	}})
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	broken := NewRouter(Options{Checks: map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}})
	rec = httptest.NewRecorder()
	broken.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","failed":{"redis":"connection refused"}}`, rec.Body.String())
}
