package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fast_focus/internal/domain"
	"fast_focus/internal/repository"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"

	"github.com/google/uuid"
)

const (
	// DefaultMaxAttempts — предел попыток на одну доставку.
	DefaultMaxAttempts = 5
	// DefaultTimeout — жёсткий таймаут одного HTTP-запроса к получателю.
	DefaultTimeout = 10 * time.Second
)

// DefaultBackoff — фиксированная таблица пауз между попытками (индекс —
// номер уже сделанной попытки, начиная с первой). Попытки за пределами
// таблицы переиспользуют последнее значение.
var DefaultBackoff = []time.Duration{
	2 * time.Second,
	5 * time.Second,
	15 * time.Second,
	45 * time.Second,
	120 * time.Second,
}

// Dispatcher доставляет исходящие нотификации at-least-once. Ошибки доставки
// никогда не всплывают к инициатору события: они видны только через журнал
// доставок.
type Dispatcher interface {
	// Dispatch создаёт запись доставки со снимком payload и сразу делает
	// первую попытку. Если вебхук у пользователя не настроен — no-op.
	Dispatch(ctx context.Context, userID uuid.UUID, payload domain.WebhookPayload) (*domain.WebhookDelivery, error)
	// Attempt выполняет одну попытку доставки. Идемпотентен для записей,
	// уже доставленных успешно.
	Attempt(ctx context.Context, deliveryID uuid.UUID) error
	// RetryFailedDelivery — административный перезапуск: сбрасывает запись
	// в PENDING и выполняет попытку заново.
	RetryFailedDelivery(ctx context.Context, deliveryID uuid.UUID) (*domain.WebhookDelivery, error)
	ListDeliveries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.WebhookDelivery, int, error)
	// Shutdown гасит отложенные ретраи. Запись остаётся PENDING и может быть
	// перезапущена административно после рестарта.
	Shutdown()
}

type dispatcher struct {
	deliveries  repository.WebhookDeliveryRepository
	settings    repository.SettingsRepository
	client      *http.Client
	backoff     []time.Duration
	maxAttempts int
	log         logger.Logger

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	closed bool
}

// Option настраивает диспетчер. Используется тестами для сжатия расписания.
type Option func(*dispatcher)

func WithBackoff(schedule []time.Duration) Option {
	return func(d *dispatcher) {
		if len(schedule) > 0 {
			d.backoff = schedule
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(d *dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(d *dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

func NewDispatcher(deliveries repository.WebhookDeliveryRepository, settings repository.SettingsRepository, log logger.Logger, opts ...Option) Dispatcher {
	d := &dispatcher{
		deliveries:  deliveries,
		settings:    settings,
		client:      &http.Client{Timeout: DefaultTimeout},
		backoff:     DefaultBackoff,
		maxAttempts: DefaultMaxAttempts,
		log:         log,
		timers:      make(map[uuid.UUID]*time.Timer),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *dispatcher) Dispatch(ctx context.Context, userID uuid.UUID, payload domain.WebhookPayload) (*domain.WebhookDelivery, error) {
	settings, err := d.settings.GetWebhookSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		d.log.Debug("Webhook not configured, skipping dispatch", "user_id", userID, "event", payload.Event)
		return nil, nil
	}

	// Снимок тела фиксируется на момент события и больше не меняется, даже
	// если исходные данные изменятся до успешной доставки.
	snapshot, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	delivery := &domain.WebhookDelivery{
		ID:        uuid.New(),
		UserID:    userID,
		SessionID: payload.SessionID,
		Event:     payload.Event,
		Payload:   snapshot,
		Status:    domain.DeliveryStatusPending,
		Attempts:  0,
	}
	if err := d.deliveries.Create(ctx, delivery); err != nil {
		return nil, err
	}

	if err := d.Attempt(ctx, delivery.ID); err != nil {
		d.log.Error("Initial delivery attempt failed", "delivery_id", delivery.ID, "error", err)
	}
	return delivery, nil
}

func (d *dispatcher) Attempt(ctx context.Context, deliveryID uuid.UUID) error {
	delivery, err := d.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status == domain.DeliveryStatusSuccess {
		// Гонка ретрая с уже успешной доставкой.
		return nil
	}

	// Конфигурация перечитывается перед каждой попыткой: пользователь мог
	// сменить URL или секрет между ретраями.
	settings, err := d.settings.GetWebhookSettings(ctx, delivery.UserID)
	if err != nil {
		return err
	}
	if settings == nil {
		msg := "webhook URL no longer configured"
		return d.deliveries.RecordAttempt(ctx, delivery.ID, domain.DeliveryStatusFailed, delivery.Attempts+1, &msg)
	}

	attempts := delivery.Attempts + 1
	status, lastError := d.send(ctx, delivery, settings)

	retryable := status == domain.DeliveryStatusPending
	if retryable && attempts >= d.maxAttempts {
		status = domain.DeliveryStatusFailed
		retryable = false
	}

	if err := d.deliveries.RecordAttempt(ctx, delivery.ID, status, attempts, lastError); err != nil {
		return err
	}

	switch {
	case status == domain.DeliveryStatusSuccess:
		d.log.Info("Webhook delivered", "delivery_id", delivery.ID, "event", delivery.Event, "attempts", attempts)
	case retryable:
		delay := d.delay(attempts)
		d.log.Warn("Webhook attempt failed, will retry",
			"delivery_id", delivery.ID, "attempts", attempts, "retry_in", delay, "error", deref(lastError))
		d.schedule(delivery.ID, delay)
	default:
		d.log.Warn("Webhook delivery failed",
			"delivery_id", delivery.ID, "attempts", attempts, "error", deref(lastError))
	}
	return nil
}

func (d *dispatcher) RetryFailedDelivery(ctx context.Context, deliveryID uuid.UUID) (*domain.WebhookDelivery, error) {
	delivery, err := d.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}

	settings, err := d.settings.GetWebhookSettings(ctx, delivery.UserID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, apperrors.ErrWebhookNotConfigured
	}

	if err := d.deliveries.Reset(ctx, deliveryID); err != nil {
		return nil, err
	}
	if err := d.Attempt(ctx, deliveryID); err != nil {
		return nil, err
	}
	return d.deliveries.GetByID(ctx, deliveryID)
}

func (d *dispatcher) ListDeliveries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.WebhookDelivery, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return d.deliveries.ListForUser(ctx, userID, limit, offset)
}

func (d *dispatcher) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	for id, timer := range d.timers {
		timer.Stop()
		delete(d.timers, id)
	}
}

// send выполняет один HTTP-запрос и классифицирует результат:
// SUCCESS — 2xx, FAILED — 4xx кроме 429, PENDING — ретраябельная ошибка
// (5xx, 429, сеть, таймаут).
func (d *dispatcher) send(ctx context.Context, delivery *domain.WebhookDelivery, settings *domain.WebhookSettings) (domain.DeliveryStatus, *string) {
	body := []byte(delivery.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.URL, bytes.NewReader(body))
	if err != nil {
		msg := err.Error()
		return domain.DeliveryStatusFailed, &msg
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", time.Now().UTC().Format(time.RFC3339))
	req.Header.Set("Idempotency-Key", delivery.SessionID)
	if settings.Secret != nil && *settings.Secret != "" {
		req.Header.Set("X-Signature", Sign([]byte(*settings.Secret), body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		msg := err.Error()
		return domain.DeliveryStatusPending, &msg
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return domain.DeliveryStatusSuccess, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		msg := httpError(resp.StatusCode)
		return domain.DeliveryStatusPending, &msg
	default:
		msg := httpError(resp.StatusCode)
		return domain.DeliveryStatusFailed, &msg
	}
}

// Sign считает подпись тела: sha256-HMAC в hex с префиксом схемы.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// delay возвращает паузу перед следующей попыткой после attempts сделанных.
func (d *dispatcher) delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(d.backoff) {
		attempts = len(d.backoff)
	}
	return d.backoff[attempts-1]
}

func (d *dispatcher) schedule(deliveryID uuid.UUID, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if timer, ok := d.timers[deliveryID]; ok {
		timer.Stop()
	}
	d.timers[deliveryID] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, deliveryID)
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout+5*time.Second)
		defer cancel()
		if err := d.Attempt(ctx, deliveryID); err != nil {
			d.log.Error("Scheduled delivery attempt failed", "delivery_id", deliveryID, "error", err)
		}
	})
}

func httpError(code int) string {
	return fmt.Sprintf("HTTP %d: %s", code, http.StatusText(code))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
