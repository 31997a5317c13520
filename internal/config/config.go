package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string

	BotToken    string
	AdminChatID int64
	HTTPPort    string

	RemnawaveURL   string
	RemnawaveKey   string
	RemnawaveSquad string

	CryptoBotToken       string
	CryptoBotAPIURL      string
	CryptoBotAsset       string
	CryptoBotInvoiceTTL  time.Duration
	CryptoBotWebhookPath string
	AllowedCryptoBotIPs  []string

	StarsEnabled bool
	StarUSDRate  float64

	MarketDataURL string

	HTTPTimeout time.Duration
	DBTimeout   time.Duration

	TariffCoefficients map[string]float64

	TrialEnabled     bool
	TrialDays        int
	TrialTrafficGB   int
	TrialDeviceLimit int

	ReferralEnabled     bool
	ReferralBonusDays   int
	ReferralTrafficGB   int
	ReferralDeviceLimit int

	SupportURL string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "remnashop"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BotToken:    getEnv("BOT_TOKEN", ""),
		AdminChatID: getEnvInt64("ADMIN_CHAT_ID", 0),
		HTTPPort:    getEnv("PORT", "3000"),

		RemnawaveURL:   getEnv("REMNAWAVE_API_URL", ""),
		RemnawaveKey:   getEnv("REMNAWAVE_API_TOKEN", ""),
		RemnawaveSquad: getEnv("REMNAWAVE_SQUAD_ID", ""),

		CryptoBotToken:       getEnv("CRYPTOBOT_TOKEN", ""),
		CryptoBotAPIURL:      getEnv("CRYPTOBOT_API_URL", "https://pay.crypt.bot/api"),
		CryptoBotAsset:       getEnv("CRYPTOBOT_ASSET", "USDT"),
		CryptoBotInvoiceTTL:  getEnvDuration("CRYPTOBOT_INVOICE_TTL", time.Hour),
		CryptoBotWebhookPath: getEnv("CRYPTOBOT_WEBHOOK_PATH", "/payment/cryptobot-status"),
		AllowedCryptoBotIPs:  getEnvList("CRYPTOBOT_ALLOWED_CIDRS"),

		StarsEnabled: getEnvBool("STARS_ENABLED", true),
		StarUSDRate:  getEnvFloat("STAR_USD_RATE", 0.013),

		MarketDataURL: getEnv("MARKET_DATA_URL", "https://api.coingecko.com/api/v3"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		DBTimeout:   getEnvDuration("DB_TIMEOUT", 5*time.Second),

		TariffCoefficients: map[string]float64{
			"month1":         getEnvFloat("MONTH_1", 1),
			"month3":         getEnvFloat("MONTH_3", 2.5),
			"month6":         getEnvFloat("MONTH_6", 4.5),
			"month12":        getEnvFloat("MONTH_12", 7.5),
			"gb50":           getEnvFloat("GB_50", 100),
			"gb100":          getEnvFloat("GB_100", 180),
			"gb250":          getEnvFloat("GB_250", 350),
			"gb1000":         getEnvFloat("GB_1000", 1000),
			"gb5000":         getEnvFloat("GB_5000", 4000),
			"connections5":   getEnvFloat("CONNECTIONS_5", 1),
			"connections10":  getEnvFloat("CONNECTIONS_10", 1.3),
			"connections25":  getEnvFloat("CONNECTIONS_25", 1.5),
			"connections100": getEnvFloat("CONNECTIONS_100", 2),
		},

		TrialEnabled:     getEnvBool("TRIAL_ENABLED", false),
		TrialDays:        getEnvInt("TRIAL_DURATION", 3),
		TrialTrafficGB:   getEnvInt("TRIAL_TRAFFIC", 1),
		TrialDeviceLimit: getEnvInt("TRIAL_DEVICE_LIMIT", 1),

		ReferralEnabled:     getEnvBool("REFERRAL_ENABLED", false),
		ReferralBonusDays:   getEnvInt("REFERRAL_BONUS", 5),
		ReferralTrafficGB:   getEnvInt("REFERRAL_TRAFFIC", 50),
		ReferralDeviceLimit: getEnvInt("REFERRAL_DEVICE_LIMIT", 1),

		SupportURL: getEnv("HELP_URL", ""),
	}
}

// Validate reports every setting the process cannot start without.
// Rail credentials are optional: a missing token disables that rail.
func (c *Config) Validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN is required"))
	}
	if c.RemnawaveURL == "" {
		errs = append(errs, errors.New("REMNAWAVE_API_URL is required"))
	}
	if c.RemnawaveKey == "" {
		errs = append(errs, errors.New("REMNAWAVE_API_TOKEN is required"))
	}
	for key, v := range c.TariffCoefficients {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("tariff coefficient %s must be positive, got %v", key, v))
		}
	}
	if c.StarsEnabled && c.StarUSDRate <= 0 {
		errs = append(errs, errors.New("STAR_USD_RATE must be positive"))
	}
	if c.TrialEnabled && (c.TrialDays <= 0 || c.TrialDeviceLimit <= 0) {
		errs = append(errs, errors.New("TRIAL_DURATION and TRIAL_DEVICE_LIMIT must be positive"))
	}
	if c.ReferralEnabled && c.ReferralBonusDays <= 0 {
		errs = append(errs, errors.New("REFERRAL_BONUS must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) CryptoBotEnabled() bool {
	return c.CryptoBotToken != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) int64 {
	v, err := strconv.ParseInt(getEnv(key, ""), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
