package payment

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

const (
	SignatureHeader = "crypto-pay-api-signature"

	maxWebhookBody = 1 << 20
)

// WebhookHandler receives Crypto Pay updates. Unknown orders and duplicate
// deliveries are acknowledged so the sender stops retrying; storage errors
// answer 500 so it retries later.
type WebhookHandler struct {
	router *Router
	token  string
}

func NewWebhookHandler(router *Router, token string) *WebhookHandler {
	return &WebhookHandler{router: router, token: token}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.token, body, r.Header.Get(SignatureHeader)) {
		slog.Warn("webhook signature mismatch", "op", "webhook", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var upd Update
	if err := json.Unmarshal(body, &upd); err != nil {
		slog.Warn("failed to decode webhook", "op", "webhook", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	outcome, err := h.router.HandleCryptoUpdate(r.Context(), upd)
	if err != nil {
		slog.Error("failed to process webhook", "op", "webhook", "update_id", upd.UpdateID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	slog.Info("webhook processed", "op", "webhook", "update_id", upd.UpdateID, "outcome", outcome.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
