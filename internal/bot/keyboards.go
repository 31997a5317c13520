package bot

import (
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"remnashop-bot/internal/models"
	"remnashop-bot/internal/notify"
	"remnashop-bot/internal/payment"
	"remnashop-bot/internal/pricing"
)

// Callback data.
const (
	cbMenu       = "menu"
	cbBuy        = "buy"
	cbTrial      = "trial"
	cbReferral   = "referral"
	cbRedeem     = "redeem"
	cbCheckAll   = "check"
	prefixSelect = "sel:"
	prefixPay    = "pay:"
	prefixCheck  = "check:"
)

// Option groups in selection callbacks, e.g. "sel:d:3".
const (
	groupDuration = "d"
	groupData     = "g"
	groupDevices  = "c"
)

type menuOptions struct {
	Trial      bool
	Referral   bool
	SupportURL string
}

func mainMenu(lang string, opts menuOptions) *telego.InlineKeyboardMarkup {
	rows := [][]telego.InlineKeyboardButton{
		tu.InlineKeyboardRow(tu.InlineKeyboardButton(notify.T(lang, "btn_buy")).WithCallbackData(cbBuy)),
	}
	if opts.Trial {
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(notify.T(lang, "btn_trial")).WithCallbackData(cbTrial)))
	}
	if opts.Referral {
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(notify.T(lang, "btn_referral")).WithCallbackData(cbReferral)))
	}
	rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(notify.T(lang, "btn_check")).WithCallbackData(cbCheckAll)))
	if opts.SupportURL != "" {
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(notify.T(lang, "btn_support")).WithURL(opts.SupportURL)))
	}
	return tu.InlineKeyboard(rows...)
}

func optionRow(group string, options []pricing.Option, selected, unit string) []telego.InlineKeyboardButton {
	row := make([]telego.InlineKeyboardButton, 0, len(options))
	for _, opt := range options {
		label := opt.ID + unit
		if opt.ID == selected {
			label = "✅ " + label
		}
		row = append(row, tu.InlineKeyboardButton(label).WithCallbackData(prefixSelect+group+":"+opt.ID))
	}
	return row
}

func tariffKeyboard(lang string, sel pricing.Selection, rails []models.Rail) *telego.InlineKeyboardMarkup {
	rows := [][]telego.InlineKeyboardButton{
		optionRow(groupDuration, pricing.Durations, sel.Duration, "m"),
		optionRow(groupData, pricing.DataTiers, sel.Data, "GB"),
		optionRow(groupDevices, pricing.DeviceTiers, sel.Devices, "📱"),
	}
	var pay []telego.InlineKeyboardButton
	for _, rail := range rails {
		switch rail {
		case models.RailCryptoBot:
			pay = append(pay, tu.InlineKeyboardButton(notify.T(lang, "btn_pay_crypto")).WithCallbackData(prefixPay+string(rail)))
		case models.RailStars:
			pay = append(pay, tu.InlineKeyboardButton(notify.T(lang, "btn_pay_stars")).WithCallbackData(prefixPay+string(rail)))
		}
	}
	if len(pay) > 0 {
		rows = append(rows, pay)
	}
	rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(notify.T(lang, "btn_back")).WithCallbackData(cbMenu)))
	return tu.InlineKeyboard(rows...)
}

// applySelection updates sel from callback data such as "sel:g:250". It
// reports false for data that names no known option.
func applySelection(sel pricing.Selection, data string) (pricing.Selection, bool) {
	group, id, found := strings.Cut(strings.TrimPrefix(data, prefixSelect), ":")
	if !found {
		return sel, false
	}
	var options []pricing.Option
	switch group {
	case groupDuration:
		options = pricing.Durations
	case groupData:
		options = pricing.DataTiers
	case groupDevices:
		options = pricing.DeviceTiers
	default:
		return sel, false
	}
	if _, ok := pricing.Find(options, id); !ok {
		return sel, false
	}

	switch group {
	case groupDuration:
		sel.Duration = id
	case groupData:
		sel.Data = id
	case groupDevices:
		sel.Devices = id
	}
	return sel, true
}

// outcomeText is the reply to a payment check. Activation is announced by
// the notifier, so it has no reply here.
func outcomeText(lang string, o payment.Outcome) string {
	switch o {
	case payment.OutcomeActivated:
		return ""
	case payment.OutcomeAlreadyProcessed:
		return notify.T(lang, "already_processed")
	case payment.OutcomeExpired:
		return notify.T(lang, "expired")
	case payment.OutcomePending:
		return notify.T(lang, "pending")
	case payment.OutcomeNotFound:
		return notify.T(lang, "deny_unknown")
	}
	return notify.T(lang, "unavailable")
}

func denyText(lang, reason string) string {
	switch reason {
	case payment.DenyNotPending:
		return notify.T(lang, "deny_not_pending")
	case payment.DenyMismatch:
		return notify.T(lang, "deny_mismatch")
	case payment.DenyUnavailable:
		return notify.T(lang, "unavailable")
	}
	return notify.T(lang, "deny_unknown")
}

func referralLink(botUsername, code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, code)
}

// startToken extracts the deep-link argument of "/start <token>".
func startToken(text string) string {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
