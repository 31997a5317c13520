package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remnashop-bot/internal/models"
)

type fakeSender struct {
	sent           []*telego.SendMessageParams
	SendMessageErr error
}

func (f *fakeSender) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.sent = append(f.sent, params)
	if f.SendMessageErr != nil {
		return nil, f.SendMessageErr
	}
	return &telego.Message{}, nil
}

func TestUserMessages(t *testing.T) {
	s := &fakeSender{}
	n := NewTelegram(s, 0)
	end := time.Date(2026, 11, 15, 10, 0, 0, 0, time.UTC)
	user := &models.User{TelegramID: 42, LanguageCode: "en", SubscriptionURL: "https://sub/x"}
	order := &models.Order{ID: "o1", EndsAt: &end}

	n.OrderActivated(t.Context(), user, order)
	n.ProvisioningFailed(t.Context(), &models.User{TelegramID: 43, LanguageCode: "ru"}, order)
	n.ReferralCredited(t.Context(), user, &models.User{FirstName: "Bob"}, 5)

	require.Len(t, s.sent, 3)
	assert.Equal(t, telego.ChatID{ID: 42}, s.sent[0].ChatID)
	assert.Contains(t, s.sent[0].Text, "15.11.2026")
	assert.Contains(t, s.sent[0].Text, "https://sub/x")
	assert.Contains(t, s.sent[1].Text, "Оплата получена")
	assert.Equal(t, "🎉 Bob joined with your link! Bonus days credited: 5.", s.sent[2].Text)
}

func TestAlert(t *testing.T) {
	s := &fakeSender{}
	NewTelegram(s, 0).Alert(t.Context(), "ignored", "order_id", "o1")
	assert.Empty(t, s.sent, "no operator chat")

	n := NewTelegram(s, -100)
	n.Alert(t.Context(), "provisioning failed for paid order", "order_id", "o1", "rail", models.RailStars)
	require.Len(t, s.sent, 1)
	assert.Equal(t, telego.ChatID{ID: -100}, s.sent[0].ChatID)
	assert.Contains(t, s.sent[0].Text, "order_id: o1")
	assert.Contains(t, s.sent[0].Text, "rail: telegram_stars")
}

func TestReminderReportsError(t *testing.T) {
	s := &fakeSender{SendMessageErr: errors.New("blocked by user")}
	err := NewTelegram(s, 0).ExpiryReminder(t.Context(), &models.User{TelegramID: 1}, &models.Order{})
	assert.Error(t, err)
}

func TestTextFallback(t *testing.T) {
	assert.Equal(t, texts["ru"]["pending"], T("de", "pending"))
	assert.Equal(t, "Hi, Ann! 👋\n\nI will help you get a VPN through Remnawave.", T("en", "greeting", "Ann"))
	assert.Equal(t, "missing_key", T("en", "missing_key"))
}
