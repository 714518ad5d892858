package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "PENDING"
	DeliveryStatusSuccess DeliveryStatus = "SUCCESS"
	DeliveryStatusFailed  DeliveryStatus = "FAILED"
)

// WebhookDelivery — запись одной исходящей нотификации. Снимок payload
// неизменяем с момента создания; записи не удаляются (журнал доставок).
type WebhookDelivery struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	SessionID   string          `json:"session_id"`
	Event       string          `json:"event"`
	Payload     json.RawMessage `json:"payload"`
	Status      DeliveryStatus  `json:"status"`
	Attempts    int             `json:"attempts"`
	LastTriedAt *time.Time      `json:"last_tried_at,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// WebhookTask — ссылка на задачу в теле нотификации.
type WebhookTask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// WebhookPayload — тело исходящей нотификации о событии таймера.
type WebhookPayload struct {
	Event              string       `json:"event"`
	UserID             string       `json:"user_id"`
	SessionID          string       `json:"session_id"`
	Task               *WebhookTask `json:"task,omitempty"`
	StartAt            string       `json:"start_at"`
	EndAt              *string      `json:"end_at,omitempty"`
	DurationPlannedSec int          `json:"duration_planned_sec"`
	DurationActualSec  *int         `json:"duration_actual_sec,omitempty"`
	Timezone           string       `json:"timezone"`
	AppVersion         string       `json:"app_version"`
}

// WebhookSettings — конфигурация получателя (смотрится перед каждой отправкой).
type WebhookSettings struct {
	URL    string  `json:"webhook_url"`
	Secret *string `json:"-"`
}
