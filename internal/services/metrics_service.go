// internal/services/metrics_service.go
package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/healthledger/attestation-service/internal/models"
)

// Stats is the aggregate view served to the operational dashboard.
type Stats struct {
	TotalRecords   int64 `json:"total_records"`
	ConsentedCount int64 `json:"consented_records"`
	PendingProofs  int64 `json:"pending_proofs"`
	ValidatedProof int64 `json:"validated_proofs"`
	ActiveLicenses int64 `json:"active_licenses"`
	ActiveDatasets int64 `json:"active_datasets"`
	ActiveAlerts   int64 `json:"active_alerts"`
	TotalSupply    string `json:"total_supply"`
}

// MetricsService owns a private Prometheus registry. All Observe methods are
// safe on a nil receiver so services can run without metrics.
type MetricsService struct {
	db       *gorm.DB
	registry *prometheus.Registry
	now      func() time.Time

	votes        *prometheus.CounterVec
	proofs       *prometheus.CounterVec
	purchases    *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	integrations *prometheus.CounterVec
	requests     *prometheus.HistogramVec
}

func NewMetricsService(db *gorm.DB) *MetricsService {
	m := &MetricsService{
		db:       db,
		registry: prometheus.NewRegistry(),
		now:      time.Now,
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_votes_total",
			Help: "Validator votes by outcome",
		}, []string{"outcome"}),
		proofs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_proofs_total",
			Help: "Proof lifecycle transitions",
		}, []string{"status"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_purchases_total",
			Help: "Dataset purchase attempts by result",
		}, []string{"result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "token_operations_total",
			Help: "Token ledger mint and burn operations",
		}, []string{"kind"}),
		integrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "integration_deliveries_total",
			Help: "Outbound surveillance notifications by result",
		}, []string{"result"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		m.votes, m.proofs, m.purchases, m.tokens, m.integrations, m.requests,
		&stateCollector{metrics: m},
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsService) ObserveVote(outcome string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(outcome).Inc()
}

func (m *MetricsService) ObserveProof(status models.ProofStatus) {
	if m == nil {
		return
	}
	m.proofs.WithLabelValues(string(status)).Inc()
}

func (m *MetricsService) ObservePurchase(result string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(result).Inc()
}

func (m *MetricsService) ObserveToken(kind models.TokenTransactionKind) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(string(kind)).Inc()
}

func (m *MetricsService) ObserveIntegration(result string) {
	if m == nil {
		return
	}
	m.integrations.WithLabelValues(result).Inc()
}

func (m *MetricsService) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, fmt.Sprint(status)).Observe(d.Seconds())
}

// Stats reads the aggregate counters from storage using indexed filters.
func (m *MetricsService) Stats(ctx context.Context) (*Stats, error) {
	db := m.db.WithContext(ctx)
	stats := &Stats{}
	now := m.now()

	counts := []struct {
		model interface{}
		where string
		args  []interface{}
		dest  *int64
	}{
		{&models.HealthRecord{}, "", nil, &stats.TotalRecords},
		{&models.HealthRecord{}, "consent = ?", []interface{}{true}, &stats.ConsentedCount},
		{&models.Proof{}, "status IN ?", []interface{}{[]models.ProofStatus{models.ProofStatusSubmitted, models.ProofStatusPending}}, &stats.PendingProofs},
		{&models.Proof{}, "status = ?", []interface{}{models.ProofStatusValidated}, &stats.ValidatedProof},
		{&models.License{}, "active = ? AND expires_at > ?", []interface{}{true, now}, &stats.ActiveLicenses},
		{&models.Dataset{}, "active = ?", []interface{}{true}, &stats.ActiveDatasets},
		{&models.OutbreakAlert{}, "status = ?", []interface{}{models.AlertStatusActive}, &stats.ActiveAlerts},
	}
	for _, c := range counts {
		q := db.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	supply, _, err := readSupply(db)
	if err != nil {
		return nil, err
	}
	stats.TotalSupply = supply.TotalSupply.String()
	return stats, nil
}

// stateCollector turns Stats into gauges at scrape time.
type stateCollector struct {
	metrics *MetricsService
}

var (
	descTotalRecords   = prometheus.NewDesc("health_records_total", "Stored health records", nil, nil)
	descPendingProofs  = prometheus.NewDesc("bridge_pending_proofs", "Proofs awaiting quorum", nil, nil)
	descActiveLicenses = prometheus.NewDesc("marketplace_active_licenses", "Unexpired active licenses", nil, nil)
	descActiveAlerts   = prometheus.NewDesc("outbreak_active_alerts", "Active outbreak alerts", nil, nil)
)

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descTotalRecords
	ch <- descPendingProofs
	ch <- descActiveLicenses
	ch <- descActiveAlerts
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := c.metrics.Stats(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Failed to collect state metrics")
		return
	}
	ch <- prometheus.MustNewConstMetric(descTotalRecords, prometheus.GaugeValue, float64(stats.TotalRecords))
	ch <- prometheus.MustNewConstMetric(descPendingProofs, prometheus.GaugeValue, float64(stats.PendingProofs))
	ch <- prometheus.MustNewConstMetric(descActiveLicenses, prometheus.GaugeValue, float64(stats.ActiveLicenses))
	ch <- prometheus.MustNewConstMetric(descActiveAlerts, prometheus.GaugeValue, float64(stats.ActiveAlerts))
}
