package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"remnashop-bot/internal/checkout"
	"remnashop-bot/internal/grant"
	"remnashop-bot/internal/models"
	"remnashop-bot/internal/notify"
	"remnashop-bot/internal/payment"
	"remnashop-bot/internal/referral"
	"remnashop-bot/internal/session"
	"remnashop-bot/internal/users"
)

type Options struct {
	SupportURL      string
	TrialEnabled    bool
	ReferralEnabled bool
}

// Services are the domain components the handlers drive.
type Services struct {
	Users     *users.Repository
	Sessions  *session.Store
	Checkout  *checkout.Service
	Payments  *payment.Router
	Referrals *referral.Ledger
	Granter   *grant.Granter
}

type Bot struct {
	Instance *telego.Bot
	svc      Services
	opts     Options
	username string
}

func NewBot(instance *telego.Bot, svc Services, opts Options) *Bot {
	return &Bot{Instance: instance, svc: svc, opts: opts}
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	me, err := b.Instance.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	b.username = me.Username

	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create bot handler: %w", err)
	}

	handler.Handle(b.handleStart, th.CommandEqual("start"))
	handler.Handle(b.handleCheckCommand, th.CommandEqual("check_payments"))
	handler.Handle(b.handleMenu, th.CallbackDataEqual(cbMenu))
	handler.Handle(b.handleBuy, th.CallbackDataEqual(cbBuy))
	handler.Handle(b.handleSelect, th.CallbackDataPrefix(prefixSelect))
	handler.Handle(b.handlePay, th.CallbackDataPrefix(prefixPay))
	handler.Handle(b.handleCheckAll, th.CallbackDataEqual(cbCheckAll))
	handler.Handle(b.handleCheckOne, th.CallbackDataPrefix(prefixCheck))
	handler.Handle(b.handleTrial, th.CallbackDataEqual(cbTrial))
	handler.Handle(b.handleReferral, th.CallbackDataEqual(cbReferral))
	handler.Handle(b.handleRedeem, th.CallbackDataEqual(cbRedeem))
	handler.Handle(b.handlePreCheckout, isPreCheckout)
	handler.Handle(b.handleSuccessfulPayment, isSuccessfulPayment)

	go func() {
		<-ctx.Done()
		_ = handler.Stop()
	}()

	slog.Info("bot started", "op", "bot", "username", b.username)
	return handler.Start()
}

func isPreCheckout(_ context.Context, update telego.Update) bool {
	return update.PreCheckoutQuery != nil
}

func isSuccessfulPayment(_ context.Context, update telego.Update) bool {
	return update.Message != nil && update.Message.SuccessfulPayment != nil
}

func profile(from *telego.User) users.Profile {
	return users.Profile{
		TelegramID:   from.ID,
		Username:     from.Username,
		FirstName:    from.FirstName,
		LastName:     from.LastName,
		LanguageCode: from.LanguageCode,
	}
}

// identify registers or refreshes the Telegram user behind an update.
func (b *Bot) identify(ctx context.Context, from *telego.User) (*models.User, error) {
	user, _, err := b.svc.Users.Upsert(ctx, profile(from))
	return user, err
}

// lang is the stored language of a Telegram user, "ru" when unknown.
func (b *Bot) lang(ctx context.Context, telegramID int64) string {
	user, err := b.svc.Users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return "ru"
	}
	return user.LanguageCode
}

func (b *Bot) send(ctx context.Context, params *telego.SendMessageParams) {
	if _, err := b.Instance.SendMessage(ctx, params); err != nil {
		slog.Warn("failed to send message", "op", "bot", "chat_id", params.ChatID.ID, "error", err)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}
	b.send(ctx, tu.Message(tu.ID(chatID), text))
}

func (b *Bot) answer(ctx context.Context, callback *telego.CallbackQuery) {
	_ = b.Instance.AnswerCallbackQuery(ctx, tu.CallbackQuery(callback.ID))
}

func (b *Bot) menuOptions() menuOptions {
	return menuOptions{
		Trial:      b.opts.TrialEnabled,
		Referral:   b.opts.ReferralEnabled,
		SupportURL: b.opts.SupportURL,
	}
}

func (b *Bot) sendMenu(ctx context.Context, user *models.User) {
	b.send(ctx, tu.Message(
		tu.ID(user.TelegramID),
		notify.T(user.LanguageCode, "greeting", user.DisplayName()),
	).WithReplyMarkup(mainMenu(user.LanguageCode, b.menuOptions())))
}

// callbackUser resolves the sender of a callback and acknowledges it.
func (b *Bot) callbackUser(ctx context.Context, callback *telego.CallbackQuery) (*models.User, bool) {
	b.answer(ctx, callback)
	user, err := b.identify(ctx, &callback.From)
	if err != nil {
		slog.Error("failed to load user", "op", "bot", "telegram_id", callback.From.ID, "error", err)
		b.reply(ctx, callback.From.ID, notify.T(callback.From.LanguageCode, "unavailable"))
		return nil, false
	}
	return user, true
}

func (b *Bot) handleStart(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	message := update.Message
	if message.From == nil {
		return nil
	}

	user, err := b.identify(c, message.From)
	if err != nil {
		slog.Error("failed to register user", "op", "start", "telegram_id", message.From.ID, "error", err)
		b.reply(c, message.Chat.ID, notify.T(message.From.LanguageCode, "unavailable"))
		return nil
	}

	if token := startToken(message.Text); token != "" && b.opts.ReferralEnabled {
		if _, err := b.svc.Referrals.Apply(c, user, token); err != nil {
			slog.Error("failed to apply referral", "op", "start", "user_id", user.ID, "error", err)
		}
	}

	b.sendMenu(c, user)
	return nil
}

func (b *Bot) handleMenu(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	user, ok := b.callbackUser(c, update.CallbackQuery)
	if !ok {
		return nil
	}
	b.sendMenu(c, user)
	return nil
}

func (b *Bot) handleBuy(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	user, ok := b.callbackUser(c, update.CallbackQuery)
	if !ok {
		return nil
	}
	st, err := b.svc.Sessions.Get(c, user.TelegramID)
	if err != nil {
		slog.Warn("failed to load session", "op", "buy", "user_id", user.ID, "error", err)
	}
	text, kb := b.tariffView(c, user, st)
	b.send(c, tu.Message(tu.ID(user.TelegramID), text).WithParseMode(telego.ModeMarkdown).WithReplyMarkup(kb))
	return nil
}

func (b *Bot) tariffView(ctx context.Context, user *models.User, st session.State) (string, *telego.InlineKeyboardMarkup) {
	lang := user.LanguageCode
	q, err := b.svc.Checkout.Quote(ctx, st.Selection)
	if errors.Is(err, checkout.ErrUnpriceable) {
		slog.Error("selection cannot be priced", "op", "quote", "selection", st.Selection, "error", err)
		return notify.T(lang, "unavailable"), tu.InlineKeyboard(
			tu.InlineKeyboardRow(tu.InlineKeyboardButton(notify.T(lang, "btn_back")).WithCallbackData(cbMenu)),
		)
	}

	text := notify.T(lang, "tariff_summary", q.Tariff.Months, q.Tariff.TrafficGB, q.Tariff.Devices, q.RUB.StringFixed(2))
	if q.HasUSD() {
		text += notify.T(lang, "tariff_usd", q.USD.StringFixed(2))
	}
	text += "\n\n" + notify.T(lang, "choose_options")
	return text, tariffKeyboard(lang, st.Selection, b.svc.Checkout.Rails())
}

func (b *Bot) handleSelect(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	callback := update.CallbackQuery
	user, ok := b.callbackUser(c, callback)
	if !ok {
		return nil
	}

	st, err := b.svc.Sessions.Get(c, user.TelegramID)
	if err != nil {
		slog.Warn("failed to load session", "op", "select", "user_id", user.ID, "error", err)
	}
	sel, changed := applySelection(st.Selection, callback.Data)
	if !changed || sel == st.Selection {
		return nil
	}
	st.Selection = sel
	if err := b.svc.Sessions.Save(c, user.TelegramID, st); err != nil {
		slog.Warn("failed to save session", "op", "select", "user_id", user.ID, "error", err)
	}

	text, kb := b.tariffView(c, user, st)
	if callback.Message != nil && callback.Message.IsAccessible() {
		edit := tu.EditMessageText(tu.ID(callback.Message.GetChat().ID), callback.Message.GetMessageID(), text).
			WithParseMode(telego.ModeMarkdown).
			WithReplyMarkup(kb)
		if _, err := b.Instance.EditMessageText(c, edit); err == nil {
			return nil
		}
	}
	b.send(c, tu.Message(tu.ID(user.TelegramID), text).WithParseMode(telego.ModeMarkdown).WithReplyMarkup(kb))
	return nil
}

func (b *Bot) handlePay(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	callback := update.CallbackQuery
	user, ok := b.callbackUser(c, callback)
	if !ok {
		return nil
	}
	lang := user.LanguageCode
	rail := models.Rail(strings.TrimPrefix(callback.Data, prefixPay))

	st, err := b.svc.Sessions.Get(c, user.TelegramID)
	if err != nil {
		slog.Warn("failed to load session", "op", "pay", "user_id", user.ID, "error", err)
	}

	res, err := b.svc.Checkout.Start(c, user, st.Selection, rail)
	switch {
	case errors.Is(err, checkout.ErrRateUnavailable):
		b.reply(c, user.TelegramID, notify.T(lang, "rate_unavailable"))
		return nil
	case err != nil:
		slog.Error("checkout failed", "op", "pay", "user_id", user.ID, "rail", rail, "error", err)
		b.reply(c, user.TelegramID, notify.T(lang, "unavailable"))
		return nil
	}

	st.LastOrderID = res.Order.ID
	if err := b.svc.Sessions.Save(c, user.TelegramID, st); err != nil {
		slog.Warn("failed to save session", "op", "pay", "user_id", user.ID, "error", err)
	}

	if res.InvoiceURL == "" {
		return nil
	}
	kb := tu.InlineKeyboard(
		tu.InlineKeyboardRow(tu.InlineKeyboardButton(notify.T(lang, "btn_check")).WithCallbackData(prefixCheck+res.Order.ID)),
	)
	text := notify.T(lang, "crypto_invoice", res.Order.Amount.String(), res.Order.Currency, res.InvoiceURL)
	b.send(c, tu.Message(tu.ID(user.TelegramID), text).WithReplyMarkup(kb))
	return nil
}

func (b *Bot) handleCheckCommand(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	if update.Message.From == nil {
		return nil
	}
	user, err := b.identify(c, update.Message.From)
	if err != nil {
		slog.Error("failed to load user", "op", "check", "telegram_id", update.Message.From.ID, "error", err)
		return nil
	}
	b.checkPending(c, user)
	return nil
}

func (b *Bot) handleCheckAll(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	user, ok := b.callbackUser(c, update.CallbackQuery)
	if !ok {
		return nil
	}
	b.checkPending(c, user)
	return nil
}

func (b *Bot) checkPending(ctx context.Context, user *models.User) {
	lang := user.LanguageCode
	outcomes, err := b.svc.Payments.CheckPending(ctx, user.ID)
	if err != nil {
		slog.Error("pending check failed", "op", "check", "user_id", user.ID, "error", err)
		b.reply(ctx, user.TelegramID, notify.T(lang, "unavailable"))
		return
	}
	if len(outcomes) == 0 {
		b.reply(ctx, user.TelegramID, notify.T(lang, "no_pending"))
		return
	}

	seen := make(map[string]bool)
	var lines []string
	for _, o := range outcomes {
		if text := outcomeText(lang, o); text != "" && !seen[text] {
			seen[text] = true
			lines = append(lines, text)
		}
	}
	sort.Strings(lines)
	b.reply(ctx, user.TelegramID, strings.Join(lines, "\n"))
}

func (b *Bot) handleCheckOne(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	callback := update.CallbackQuery
	user, ok := b.callbackUser(c, callback)
	if !ok {
		return nil
	}

	orderID := strings.TrimPrefix(callback.Data, prefixCheck)
	outcome, err := b.svc.Payments.CheckInvoice(c, user.ID, orderID)
	if err != nil {
		slog.Error("invoice check failed", "op", "check", "user_id", user.ID, "order_id", orderID, "error", err)
		b.reply(c, user.TelegramID, notify.T(user.LanguageCode, "unavailable"))
		return nil
	}
	b.reply(c, user.TelegramID, outcomeText(user.LanguageCode, outcome))
	return nil
}

func (b *Bot) handleTrial(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	user, ok := b.callbackUser(c, update.CallbackQuery)
	if !ok {
		return nil
	}

	_, err := b.svc.Granter.GrantTrial(c, user)
	switch {
	case err == nil:
	case errors.Is(err, grant.ErrTrialUsed):
		b.reply(c, user.TelegramID, notify.T(user.LanguageCode, "trial_used"))
	case errors.Is(err, grant.ErrTrialDisabled):
		b.reply(c, user.TelegramID, notify.T(user.LanguageCode, "trial_disabled"))
	default:
		slog.Error("trial grant failed", "op", "trial", "user_id", user.ID, "error", err)
		b.reply(c, user.TelegramID, notify.T(user.LanguageCode, "unavailable"))
	}
	return nil
}

func (b *Bot) handleReferral(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	user, ok := b.callbackUser(c, update.CallbackQuery)
	if !ok {
		return nil
	}
	lang := user.LanguageCode

	invited, err := b.svc.Users.CountInvited(c, user.ID)
	if err != nil {
		slog.Error("failed to count referrals", "op", "referral", "user_id", user.ID, "error", err)
		b.reply(c, user.TelegramID, notify.T(lang, "unavailable"))
		return nil
	}

	days := user.AvailableReferralDays()
	msg := notify.T(lang, "referral_info", invited, days, referralLink(b.username, user.ReferralCode))

	var rows [][]telego.InlineKeyboardButton
	if days > 0 {
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(notify.T(lang, "btn_redeem")).WithCallbackData(cbRedeem)))
	}
	rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(notify.T(lang, "btn_back")).WithCallbackData(cbMenu)))

	b.send(c, tu.Message(tu.ID(user.TelegramID), msg).WithParseMode(telego.ModeMarkdown).WithReplyMarkup(tu.InlineKeyboard(rows...)))
	return nil
}

func (b *Bot) handleRedeem(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	user, ok := b.callbackUser(c, update.CallbackQuery)
	if !ok {
		return nil
	}

	_, err := b.svc.Granter.RedeemReferralDays(c, user)
	switch {
	case err == nil:
	case errors.Is(err, grant.ErrNoReferralDays):
		b.reply(c, user.TelegramID, notify.T(user.LanguageCode, "no_referral_days"))
	default:
		slog.Error("referral redemption failed", "op", "redeem", "user_id", user.ID, "error", err)
		b.reply(c, user.TelegramID, notify.T(user.LanguageCode, "unavailable"))
	}
	return nil
}

func (b *Bot) handlePreCheckout(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	query := update.PreCheckoutQuery

	ok, reason := b.svc.Payments.ApprovePreCheckout(c, payment.PreCheckout{
		Payload:     query.InvoicePayload,
		Currency:    query.Currency,
		TotalAmount: query.TotalAmount,
		TelegramID:  query.From.ID,
	})

	params := &telego.AnswerPreCheckoutQueryParams{PreCheckoutQueryID: query.ID, Ok: ok}
	if !ok {
		params.ErrorMessage = denyText(b.lang(c, query.From.ID), reason)
		slog.Info("pre-checkout denied", "op", "pre_checkout", "order_id", query.InvoicePayload, "reason", reason)
	}
	if err := b.Instance.AnswerPreCheckoutQuery(c, params); err != nil {
		slog.Error("failed to answer pre-checkout", "op", "pre_checkout", "order_id", query.InvoicePayload, "error", err)
	}
	return nil
}

func (b *Bot) handleSuccessfulPayment(ctx *th.Context, update telego.Update) error {
	c := ctx.Context()
	message := update.Message
	paid := message.SuccessfulPayment

	outcome, err := b.svc.Payments.HandleStarsPayment(c, payment.StarsPayment{
		Payload:     paid.InvoicePayload,
		ChargeID:    paid.TelegramPaymentChargeID,
		Currency:    paid.Currency,
		TotalAmount: paid.TotalAmount,
	})
	lang := b.lang(c, message.Chat.ID)
	if err != nil {
		slog.Error("stars payment failed", "op", "stars_payment", "order_id", paid.InvoicePayload, "charge_id", paid.TelegramPaymentChargeID, "error", err)
		b.reply(c, message.Chat.ID, notify.T(lang, "unavailable"))
		return nil
	}
	if outcome == payment.OutcomeNotFound {
		return nil
	}
	b.reply(c, message.Chat.ID, outcomeText(lang, outcome))
	return nil
}
