package service

import (
	"context"

	"RegimeWatch/internal/domain/models"
)

// Notification is the compact alert summary sent to outbound channels.
type Notification struct {
	ID         string              `json:"id"`
	Date       string              `json:"date"`
	State      models.RegimeState  `json:"state"`
	Previous   *models.RegimeState `json:"previous_state,omitempty"`
	AlertType  models.AlertType    `json:"alert_type"`
	Level      models.AlertLevel   `json:"level"`
	Spread     string              `json:"spread"`
	ZScore     string              `json:"z_score"`
	BreadthPct string              `json:"breadth_pct"`
	Message    string              `json:"message"`
	Conditions []string            `json:"trigger_conditions"`
}

// Notifier delivers a notification to one outbound channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}
