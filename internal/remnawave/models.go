package remnawave

const (
	StatusActive = "ACTIVE"

	StrategyNoReset = "NO_RESET"

	TagShop = "SHOP"
)

type CreateUserRequest struct {
	Username             string   `json:"username"`
	Status               string   `json:"status"`
	ShortUUID            string   `json:"shortUuid"`
	SubscriptionUUID     string   `json:"subscriptionUuid"`
	VlessUUID            string   `json:"vlessUuid"`
	TrojanPassword       string   `json:"trojanPassword"`
	SsPassword           string   `json:"ssPassword"`
	TrafficLimitBytes    int64    `json:"trafficLimitBytes"`
	TrafficLimitStrategy string   `json:"trafficLimitStrategy"`
	ExpireAt             string   `json:"expireAt"` // ISO 8601 format
	Description          string   `json:"description,omitempty"`
	Tag                  string   `json:"tag,omitempty"`
	TelegramID           int64    `json:"telegramId,omitempty"`
	HwidDeviceLimit      int      `json:"hwidDeviceLimit"`
	ActiveInternalSquads []string `json:"activeInternalSquads,omitempty"`
}

type UserResponse struct {
	UUID                 string  `json:"uuid"`
	ShortUUID            string  `json:"shortUuid"`
	Username             string  `json:"username"`
	Status               string  `json:"status"`
	TrafficLimitBytes    int64   `json:"trafficLimitBytes"`
	TrafficLimitStrategy string  `json:"trafficLimitStrategy"`
	ExpireAt             string  `json:"expireAt"`
	SubscriptionURL      string  `json:"subscriptionUrl"`
	ActiveInternalSquads []Squad `json:"activeInternalSquads"`
}

type Squad struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Wrapper for API responses
type APIResponse struct {
	Response UserResponse `json:"response"`
}
