// Package notify delivers user messages and operator alerts over Telegram.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"remnashop-bot/internal/models"
)

const dateLayout = "02.01.2006"

// Sender is the part of *telego.Bot used to send messages.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

type Telegram struct {
	sender      Sender
	adminChatID int64
}

func NewTelegram(sender Sender, adminChatID int64) *Telegram {
	return &Telegram{sender: sender, adminChatID: adminChatID}
}

func coverageEnd(order *models.Order) string {
	if order.EndsAt == nil {
		return "-"
	}
	return order.EndsAt.Format(dateLayout)
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) {
	if _, err := t.sender.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		slog.Warn("failed to send message", "op", "notify", "chat_id", chatID, "error", err)
	}
}

func (t *Telegram) OrderActivated(ctx context.Context, user *models.User, order *models.Order) {
	t.send(ctx, user.TelegramID, T(user.LanguageCode, "activated", coverageEnd(order), user.SubscriptionURL))
}

func (t *Telegram) ProvisioningFailed(ctx context.Context, user *models.User, order *models.Order) {
	t.send(ctx, user.TelegramID, T(user.LanguageCode, "provision_failed", coverageEnd(order)))
}

func (t *Telegram) ReferralCredited(ctx context.Context, inviter, invited *models.User, days int) {
	t.send(ctx, inviter.TelegramID, T(inviter.LanguageCode, "referral_credited", invited.DisplayName(), days))
}

func (t *Telegram) ExpiryReminder(ctx context.Context, user *models.User, _ *models.Order) error {
	_, err := t.sender.SendMessage(ctx, tu.Message(tu.ID(user.TelegramID), T(user.LanguageCode, "reminder")))
	return err
}

// Alert logs msg at error level and forwards it to the operator chat when
// one is configured. args are slog-style key/value pairs.
func (t *Telegram) Alert(ctx context.Context, msg string, args ...any) {
	slog.Error(msg, append([]any{"alert", true}, args...)...)
	if t.adminChatID == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("🚨 ")
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, "\n%v: %v", args[i], args[i+1])
	}
	fmt.Fprintf(&b, "\n%s", time.Now().UTC().Format(time.RFC3339))
	t.send(ctx, t.adminChatID, b.String())
}
