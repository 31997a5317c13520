package notify

import (
	"fmt"
)

var texts = map[string]map[string]string{
	"ru": {
		"greeting":          "Привет, %s! 👋\n\nЯ помогу тебе с VPN через Remnawave.",
		"btn_buy":           "🚀 Купить VPN",
		"btn_trial":         "🎁 Пробный период",
		"btn_referral":      "🤝 Партнерская программа",
		"btn_check":         "🔄 Проверить оплату",
		"btn_support":       "💬 Поддержка",
		"btn_pay_crypto":    "💎 CryptoBot",
		"btn_pay_stars":     "⭐ Telegram Stars",
		"btn_redeem":        "🎉 Активировать бонусные дни",
		"btn_back":          "« Назад",
		"tariff_summary":    "📊 *Тариф:*\nСрок: %d мес.\nТрафик: %d ГБ\nУстройства: %d\n\n💰 Цена: %s ₽",
		"tariff_usd":        " (≈ %s $)",
		"choose_options":    "Выберите параметры и способ оплаты:",
		"crypto_invoice":    "💳 Счёт на %s %s:\n%s\n\nПосле оплаты подписка активируется автоматически.",
		"stars_title":       "VPN подписка",
		"stars_description": "Тариф: %d мес., %d ГБ, %d устройств",
		"activated":         "✅ Оплата прошла успешно!\n\n📅 Действует до: %s\n\n🔗 Твоя ссылка на VPN:\n%s\n\nПриятного пользования!",
		"provision_failed":  "✅ Оплата получена, подписка активна до %s.\n\n⚠️ Не удалось выдать доступ автоматически. Мы уже разбираемся, ссылка придёт в этот чат.",
		"referral_credited": "🎉 По вашей ссылке присоединился %s! Начислено бонусных дней: %d.",
		"referral_info":     "🤝 *Партнерская программа*\n\nПриглашено: %d\nДоступно бонусных дней: %d\n\n🔗 Твоя ссылка:\n`%s`",
		"no_referral_days":  "У вас пока нет бонусных дней.",
		"reminder":          "⚠️ Ваша подписка истекает через сутки! Продлите её, чтобы не потерять доступ.",
		"unavailable":       "❌ Сервис временно недоступен. Попробуйте позже.",
		"rate_unavailable":  "❌ Не удалось получить курс валют. Попробуйте позже.",
		"already_processed": "ℹ️ Этот платёж уже обработан.",
		"pending":           "⏳ Оплата ещё не поступила.",
		"expired":           "⌛ Счёт истёк. Создайте новый заказ.",
		"no_pending":        "Нет ожидающих оплат.",
		"trial_used":        "Вы уже использовали пробный период.",
		"trial_disabled":    "Пробный период недоступен.",
		"deny_unknown":      "Заказ не найден.",
		"deny_not_pending":  "Заказ уже оплачен или отменён.",
		"deny_mismatch":     "Сумма заказа изменилась, создайте новый счёт.",
	},
	"en": {
		"greeting":          "Hi, %s! 👋\n\nI will help you get a VPN through Remnawave.",
		"btn_buy":           "🚀 Buy VPN",
		"btn_trial":         "🎁 Free trial",
		"btn_referral":      "🤝 Referral program",
		"btn_check":         "🔄 Check payment",
		"btn_support":       "💬 Support",
		"btn_pay_crypto":    "💎 CryptoBot",
		"btn_pay_stars":     "⭐ Telegram Stars",
		"btn_redeem":        "🎉 Redeem bonus days",
		"btn_back":          "« Back",
		"tariff_summary":    "📊 *Tariff:*\nDuration: %d mo.\nTraffic: %d GB\nDevices: %d\n\n💰 Price: %s ₽",
		"tariff_usd":        " (≈ %s $)",
		"choose_options":    "Choose the options and a payment method:",
		"crypto_invoice":    "💳 Invoice for %s %s:\n%s\n\nThe subscription activates automatically after payment.",
		"stars_title":       "VPN subscription",
		"stars_description": "Tariff: %d mo., %d GB, %d devices",
		"activated":         "✅ Payment received!\n\n📅 Valid until: %s\n\n🔗 Your VPN link:\n%s\n\nEnjoy!",
		"provision_failed":  "✅ Payment received, your subscription is active until %s.\n\n⚠️ We could not issue access automatically. We are on it and will send the link to this chat.",
		"referral_credited": "🎉 %s joined with your link! Bonus days credited: %d.",
		"referral_info":     "🤝 *Referral program*\n\nInvited: %d\nBonus days available: %d\n\n🔗 Your link:\n`%s`",
		"no_referral_days":  "You have no bonus days yet.",
		"reminder":          "⚠️ Your subscription expires in 24 hours. Renew it to keep access.",
		"unavailable":       "❌ The service is temporarily unavailable. Please try again later.",
		"rate_unavailable":  "❌ Could not get the exchange rate. Please try again later.",
		"already_processed": "ℹ️ This payment has already been processed.",
		"pending":           "⏳ Payment has not arrived yet.",
		"expired":           "⌛ The invoice has expired. Please place a new order.",
		"no_pending":        "No pending payments.",
		"trial_used":        "You have already used the free trial.",
		"trial_disabled":    "The free trial is not available.",
		"deny_unknown":      "Order not found.",
		"deny_not_pending":  "The order is already paid or cancelled.",
		"deny_mismatch":     "The order amount changed, please create a new invoice.",
	},
}

// T returns the text for key in lang, falling back to Russian.
func T(lang, key string, args ...any) string {
	table, ok := texts[lang]
	if !ok {
		table = texts["ru"]
	}
	s, ok := table[key]
	if !ok {
		s, ok = texts["ru"][key]
		if !ok {
			return key
		}
	}
	if len(args) == 0 {
		return s
	}
	return fmt.Sprintf(s, args...)
}
