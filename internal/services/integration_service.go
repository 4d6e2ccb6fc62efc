// internal/services/integration_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/models"
)

const (
	EventProofFinalized = "proof.finalized"
	dispatchBatchSize   = 100
	// how long a worker owns an event while publishing it
	deliveryLease = time.Minute
)

// IntegrationMessage is what the surveillance system receives when a proof
// reaches a terminal status.
type IntegrationMessage struct {
	EventID    string             `json:"event_id"`
	RecordID   string             `json:"record_id"`
	ProofID    string             `json:"proof_id"`
	Status     models.ProofStatus `json:"status"`
	OccurredAt time.Time          `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, msg IntegrationMessage) error
	Close() error
}

type RabbitPublisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

func NewRabbitPublisher(cfg config.BrokerConfig) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &RabbitPublisher{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
	}, nil
}

func (r *RabbitPublisher) Publish(ctx context.Context, msg IntegrationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.channel.PublishWithContext(ctx,
		r.exchange,
		r.routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    msg.EventID,
			Body:         body,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
		},
	)
}

func (r *RabbitPublisher) Close() error {
	if err := r.channel.Close(); err != nil {
		r.conn.Close()
		return err
	}
	return r.conn.Close()
}

// LogPublisher writes notifications to the log. Used when no broker is
// configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, msg IntegrationMessage) error {
	logrus.WithFields(logrus.Fields{
		"event_id":  msg.EventID,
		"record_id": msg.RecordID,
		"proof_id":  msg.ProofID,
		"status":    msg.Status,
	}).Info("Integration notification")
	return nil
}

func (LogPublisher) Close() error { return nil }

// IntegrationService is the outbox between proof finality and the
// surveillance system. Delivery failures are retried by Dispatch and never
// touch proof state.
type IntegrationService struct {
	db          *gorm.DB
	publisher   Publisher
	maxAttempts int
	metrics     *MetricsService
	now         func() time.Time
}

func NewIntegrationService(db *gorm.DB, publisher Publisher, maxAttempts int, metrics *MetricsService) *IntegrationService {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &IntegrationService{
		db:          db,
		publisher:   publisher,
		maxAttempts: maxAttempts,
		metrics:     metrics,
		now:         time.Now,
	}
}

// QueueFinalized stores one notification per record exported into the proof.
// It runs on the transaction that moves the proof to a terminal status.
func (s *IntegrationService) QueueFinalized(tx *gorm.DB, proof *models.Proof) ([]models.IntegrationEvent, error) {
	var exports []models.RecordExport
	if err := tx.Where("proof_id = ?", proof.ID).Order("id ASC").Find(&exports).Error; err != nil {
		return nil, fmt.Errorf("failed to load exports: %w", err)
	}

	recordIDs := make([]string, 0, len(exports))
	for _, e := range exports {
		recordIDs = append(recordIDs, e.RecordID)
	}
	if len(recordIDs) == 0 {
		// submitted directly, not through a record export
		recordIDs = append(recordIDs, "")
	}

	events := make([]models.IntegrationEvent, 0, len(recordIDs))
	for _, id := range recordIDs {
		events = append(events, models.IntegrationEvent{
			EventType:   EventProofFinalized,
			RecordID:    id,
			ProofID:     proof.ID,
			ProofStatus: proof.Status,
			Status:      models.IntegrationStatusPending,
		})
	}
	if err := tx.Create(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to queue integration events: %w", err)
	}
	return events, nil
}

// Deliver makes the first delivery attempt for freshly committed events.
// Whatever fails here is picked up again by Dispatch.
func (s *IntegrationService) Deliver(ctx context.Context, events []models.IntegrationEvent) {
	for i := range events {
		s.deliver(ctx, &events[i])
	}
}

// Dispatch retries pending events and returns how many were delivered.
func (s *IntegrationService) Dispatch(ctx context.Context) (int, error) {
	var events []models.IntegrationEvent
	if err := s.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", models.IntegrationStatusPending, s.maxAttempts).
		Where("claimed_until IS NULL OR claimed_until < ?", s.now()).
		Order("created_at ASC").
		Limit(dispatchBatchSize).
		Find(&events).Error; err != nil {
		return 0, fmt.Errorf("failed to read outbox: %w", err)
	}

	delivered := 0
	for i := range events {
		if s.deliver(ctx, &events[i]) {
			delivered++
		}
	}
	return delivered, nil
}

// claim takes a delivery lease on event. Only the worker whose conditional
// update matched the attempt count it read may publish.
func (s *IntegrationService) claim(ctx context.Context, event *models.IntegrationEvent, now time.Time) (bool, error) {
	lease := now.Add(deliveryLease)
	result := s.db.WithContext(ctx).Model(&models.IntegrationEvent{}).
		Where("id = ? AND status = ? AND attempts = ?", event.ID, models.IntegrationStatusPending, event.Attempts).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Updates(map[string]interface{}{
			"attempts":      event.Attempts + 1,
			"claimed_until": lease,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	event.Attempts++
	event.ClaimedUntil = &lease
	return true, nil
}

func (s *IntegrationService) deliver(ctx context.Context, event *models.IntegrationEvent) bool {
	claimed, err := s.claim(ctx, event, s.now())
	if err != nil {
		logrus.WithError(err).WithField("event_id", event.ID).Error("Failed to claim outbox event")
		return false
	}
	if !claimed {
		return false
	}

	msg := IntegrationMessage{
		EventID:    event.ID.String(),
		RecordID:   event.RecordID,
		ProofID:    event.ProofID.String(),
		Status:     event.ProofStatus,
		OccurredAt: event.CreatedAt,
	}

	fields := map[string]interface{}{"claimed_until": nil}
	err = s.publisher.Publish(ctx, msg)
	if err == nil {
		now := s.now()
		event.Status = models.IntegrationStatusDelivered
		event.DeliveredAt = &now
		fields["status"] = event.Status
		fields["delivered_at"] = now
		fields["last_error"] = ""
		s.metrics.ObserveIntegration("delivered")
	} else {
		event.LastError = err.Error()
		fields["last_error"] = event.LastError
		if event.Attempts >= s.maxAttempts {
			event.Status = models.IntegrationStatusFailed
			fields["status"] = event.Status
		}
		s.metrics.ObserveIntegration("failed")
		logrus.WithFields(logrus.Fields{
			"event_id": event.ID,
			"proof_id": event.ProofID,
			"attempts": event.Attempts,
		}).WithError(err).Warn("Integration delivery failed")
	}
	event.ClaimedUntil = nil

	// the outcome is written with a fresh context so a cancelled request
	// cannot leave the lease behind
	if uerr := s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.IntegrationEvent{}).
		Where("id = ?", event.ID).
		Updates(fields).Error; uerr != nil {
		logrus.WithError(uerr).WithField("event_id", event.ID).Error("Failed to update outbox event")
	}
	return err == nil
}

func (s *IntegrationService) Events(ctx context.Context, proofID string) ([]models.IntegrationEvent, error) {
	var events []models.IntegrationEvent
	if err := s.db.WithContext(ctx).Where("proof_id = ?", proofID).Order("created_at ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}
	return events, nil
}

func (s *IntegrationService) Close() error {
	return s.publisher.Close()
}
