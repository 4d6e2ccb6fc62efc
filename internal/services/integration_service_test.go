package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/healthledger/attestation-service/internal/models"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, msg IntegrationMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	return m.Called().Error(0)
}

func (e *testEnv) withPublisher(p Publisher) {
	e.integration = NewIntegrationService(e.db, p, e.cfg.Bridge.OutboxMaxAttempt, e.metrics)
	e.integration.now = e.clock.Now
	e.bridge.SetNotifier(e.integration)
}

// exportAndValidate exports a consented record and drives its proof to
// VALIDATED.
func (e *testEnv) exportAndValidate(recordID string) *models.Proof {
	e.t.Helper()
	e.putRecord(recordID, true)
	exported, err := e.records.Export(e.ctx, hospital, recordID, "")
	require.NoError(e.t, err)

	proof, err := e.bridge.GetProof(e.ctx, mustUUID(e.t, exported.ProofID))
	require.NoError(e.t, err)
	for _, id := range []string{"validator-1", "validator-2", "validator-3"} {
		proof, err = e.bridge.Validate(e.ctx, platformAdmin, proof.ID, e.vote(proof, id, true))
		require.NoError(e.t, err)
	}
	require.Equal(e.t, models.ProofStatusValidated, proof.Status)
	return proof
}

func TestFinalizedProofNotifiesPerRecord(t *testing.T) {
	env := newTestEnv(t)
	env.addValidators(3)

	proof := env.exportAndValidate("rec-1")

	messages := env.publisher.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "rec-1", messages[0].RecordID)
	assert.Equal(t, proof.ID.String(), messages[0].ProofID)
	assert.Equal(t, models.ProofStatusValidated, messages[0].Status)

	events, err := env.integration.Events(env.ctx, proof.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.IntegrationStatusDelivered, events[0].Status)
	assert.Equal(t, 1, events[0].Attempts)
	assert.NotNil(t, events[0].DeliveredAt)
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	env := newTestEnv(t)
	env.addValidators(3)
	publisher := new(mockPublisher)
	env.withPublisher(publisher)

	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(msg IntegrationMessage) bool {
		return msg.RecordID == "rec-1"
	})).Return(errors.New("broker unreachable")).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	proof := env.exportAndValidate("rec-1")

	// delivery failure leaves the proof itself untouched
	stored, err := env.bridge.GetProof(env.ctx, proof.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProofStatusValidated, stored.Status)

	events, err := env.integration.Events(env.ctx, proof.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.IntegrationStatusPending, events[0].Status)
	assert.Equal(t, "broker unreachable", events[0].LastError)

	delivered, err := env.integration.Dispatch(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	events, err = env.integration.Events(env.ctx, proof.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.IntegrationStatusDelivered, events[0].Status)
	assert.Equal(t, 2, events[0].Attempts)
	assert.Empty(t, events[0].LastError)

	delivered, err = env.integration.Dispatch(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)

	publisher.AssertNumberOfCalls(t, "Publish", 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.integrations.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.integrations.WithLabelValues("delivered")))
}

func TestDeliveryGivesUpAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	env.addValidators(3)
	publisher := new(mockPublisher)
	env.withPublisher(publisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker unreachable"))

	proof := env.exportAndValidate("rec-1")

	for i := 0; i < 4; i++ {
		delivered, err := env.integration.Dispatch(env.ctx)
		require.NoError(t, err)
		assert.Zero(t, delivered)
	}

	events, err := env.integration.Events(env.ctx, proof.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.IntegrationStatusFailed, events[0].Status)
	assert.Equal(t, env.cfg.Bridge.OutboxMaxAttempt, events[0].Attempts)
	publisher.AssertNumberOfCalls(t, "Publish", env.cfg.Bridge.OutboxMaxAttempt)
}

func TestExpiredProofIsNotified(t *testing.T) {
	env := newTestEnv(t)
	env.addValidators(3)
	proof := env.submitProof("H1")

	env.clock.Advance(env.cfg.Bridge.ProofValidity)
	count, err := env.bridge.ExpireStale(env.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	messages := env.publisher.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, proof.ID.String(), messages[0].ProofID)
	assert.Equal(t, models.ProofStatusExpired, messages[0].Status)
	assert.Empty(t, messages[0].RecordID)
}

// failOutboxInserts makes the next n inserts into the outbox table fail.
func (e *testEnv) failOutboxInserts(n int32) {
	e.t.Helper()
	remaining := n
	err := e.db.Callback().Create().Before("gorm:create").Register("test:fail_outbox", func(tx *gorm.DB) {
		if tx.Statement.Table == "integration_events" && atomic.AddInt32(&remaining, -1) >= 0 {
			tx.AddError(errors.New("disk full"))
		}
	})
	require.NoError(e.t, err)
}

func TestFinalityAndOutboxCommitTogether(t *testing.T) {
	env := newTestEnv(t)
	env.addValidators(3)
	env.putRecord("rec-1", true)
	exported, err := env.records.Export(env.ctx, hospital, "rec-1", "")
	require.NoError(t, err)
	proof, err := env.bridge.GetProof(env.ctx, mustUUID(t, exported.ProofID))
	require.NoError(t, err)

	env.failOutboxInserts(1)
	for _, id := range []string{"validator-1", "validator-2"} {
		_, err = env.bridge.Validate(env.ctx, platformAdmin, proof.ID, env.vote(proof, id, true))
		require.NoError(t, err)
	}

	// the deciding vote rolls back with its outbox row
	_, err = env.bridge.Validate(env.ctx, platformAdmin, proof.ID, env.vote(proof, "validator-3", true))
	require.Error(t, err)

	stored, err := env.bridge.GetProof(env.ctx, proof.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProofStatusPending, stored.Status)
	assert.Equal(t, 2, stored.ApproveCount)
	events, err := env.integration.Events(env.ctx, proof.ID.String())
	require.NoError(t, err)
	assert.Empty(t, events)

	finalized, err := env.bridge.Validate(env.ctx, platformAdmin, proof.ID, env.vote(proof, "validator-3", true))
	require.NoError(t, err)
	assert.Equal(t, models.ProofStatusValidated, finalized.Status)

	events, err = env.integration.Events(env.ctx, proof.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "rec-1", events[0].RecordID)
	assert.Equal(t, models.IntegrationStatusDelivered, events[0].Status)
	require.Len(t, env.publisher.Messages(), 1)
}

func TestExpirySweepRetriesWhenQueueFails(t *testing.T) {
	env := newTestEnv(t)
	env.addValidators(3)
	proof := env.submitProof("H1")
	env.clock.Advance(env.cfg.Bridge.ProofValidity)

	env.failOutboxInserts(1)
	_, err := env.bridge.ExpireStale(env.ctx)
	require.Error(t, err)

	stored, err := env.bridge.GetProof(env.ctx, proof.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProofStatusSubmitted, stored.Status)

	count, err := env.bridge.ExpireStale(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	messages := env.publisher.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, models.ProofStatusExpired, messages[0].Status)
}

func TestInterruptedFirstDeliveryIsDispatched(t *testing.T) {
	env := newTestEnv(t)
	env.addValidators(3)
	proof := env.submitProof("H1")
	proof.Status = models.ProofStatusValidated

	var queued []models.IntegrationEvent
	require.NoError(t, env.db.Transaction(func(tx *gorm.DB) error {
		var err error
		queued, err = env.integration.QueueFinalized(tx, proof)
		return err
	}))
	require.Len(t, queued, 1)

	// request context gone by the time the transaction committed
	ctx, cancel := context.WithCancel(env.ctx)
	cancel()
	env.integration.Deliver(ctx, queued)
	assert.Empty(t, env.publisher.Messages())

	delivered, err := env.integration.Dispatch(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	messages := env.publisher.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, queued[0].ID.String(), messages[0].EventID)
}

func TestDeliveryIsSingleClaim(t *testing.T) {
	env := newTestEnv(t)
	env.addValidators(3)
	publisher := new(mockPublisher)
	env.withPublisher(publisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker unreachable")).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	proof := env.exportAndValidate("rec-1")
	events, err := env.integration.Events(env.ctx, proof.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	stale := events[0]

	t.Run("leased event is skipped until the lease lapses", func(t *testing.T) {
		lease := env.clock.Now().Add(deliveryLease)
		require.NoError(t, env.db.Model(&models.IntegrationEvent{}).
			Where("id = ?", stale.ID).Update("claimed_until", lease).Error)

		delivered, err := env.integration.Dispatch(env.ctx)
		require.NoError(t, err)
		assert.Zero(t, delivered)
		publisher.AssertNumberOfCalls(t, "Publish", 1)

		env.clock.Advance(deliveryLease + time.Second)
		delivered, err = env.integration.Dispatch(env.ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, delivered)
		publisher.AssertNumberOfCalls(t, "Publish", 2)
	})

	t.Run("worker holding a stale copy does not publish", func(t *testing.T) {
		assert.False(t, env.integration.deliver(env.ctx, &stale))
		publisher.AssertNumberOfCalls(t, "Publish", 2)

		events, err := env.integration.Events(env.ctx, proof.ID.String())
		require.NoError(t, err)
		assert.Equal(t, models.IntegrationStatusDelivered, events[0].Status)
		assert.Equal(t, 2, events[0].Attempts)
		assert.Nil(t, events[0].ClaimedUntil)
	})
}

func TestCloseClosesPublisher(t *testing.T) {
	publisher := new(mockPublisher)
	publisher.On("Close").Return(nil)
	svc := NewIntegrationService(newTestDB(t), publisher, 0, nil)

	require.NoError(t, svc.Close())
	assert.Equal(t, 5, svc.maxAttempts)
	publisher.AssertExpectations(t)
}
