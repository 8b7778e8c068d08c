package models

import "time"

// Alert is the persisted low-stock record for an item. ID always equals
// ItemID, so there is at most one alert per item.
type Alert struct {
	ID           string    `json:"id"`
	ItemID       string    `json:"item_id"`
	ItemName     string    `json:"item_name"`
	Quantity     int       `json:"quantity"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

// AlertAction is what a stock check did to the alert record.
type AlertAction string

const (
	AlertActionNone       AlertAction = "none"
	AlertActionCreated    AlertAction = "created"
	AlertActionUpdated    AlertAction = "updated"
	AlertActionSuppressed AlertAction = "suppressed"
	AlertActionDeleted    AlertAction = "deleted"
)

// Changed reports whether the action wrote to the alert store.
func (a AlertAction) Changed() bool {
	return a == AlertActionCreated || a == AlertActionUpdated || a == AlertActionDeleted
}
