package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_redemptions_total",
		Help: "The total number of redemption attempts by path and outcome",
	}, []string{"path", "status"})

	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_rejections_total",
		Help: "Total number of rejected redemptions by reason",
	}, []string{"path", "reason"})

	RedemptionTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settler_redemption_seconds",
		Help:    "Time taken to process a redemption",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms up to ~8s
	}, []string{"path"})

	SettledVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_settled_volume_base_units_total",
		Help: "Gross amount settled, in base units of the settlement asset",
	}, []string{"path"})

	FeesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_fees_collected_base_units_total",
		Help: "Intent fees paid to fee recipients, in base units",
	}, []string{"path"})

	BridgeFees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_bridge_fees_base_units_total",
		Help: "Bridge fees withheld on relayed transfers, in base units",
	})

	FailedRelaysHeld = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_failed_relays_total",
		Help: "Relays that failed after the mint and are held in custody for recovery",
	}, []string{"reason"})

	RecoveryExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_recovery_executions_total",
		Help: "Recovery operations executed",
	}, []string{"kind"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_circuit_breaker_trips_total",
		Help: "Number of times a circuit breaker tripped",
	}, []string{"name"})

	// Relay worker metrics
	PendingRelayJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settler_pending_relay_jobs",
		Help: "The number of relay jobs waiting for a worker",
	})

	RelayJobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_relay_job_errors_total",
		Help: "Total number of relay job errors by type",
	}, []string{"source_domain", "error_type"})

	PermanentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_permanent_errors_total",
		Help: "Total number of permanent relay job errors that won't be retried",
	}, []string{"source_domain", "error_type"})

	MaxRetriesReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_max_retries_reached_total",
		Help: "Number of relay jobs that reached maximum retry attempts",
	}, []string{"source_domain", "error_type"})

	RetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settler_retry_queue_size",
		Help: "Current size of the retry queue",
	})

	NextRetryIn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settler_next_retry_seconds",
		Help: "Seconds until the next scheduled retry",
	})

	RetriesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_retries_executed_total",
		Help: "Number of retries that were executed",
	}, []string{"source_domain", "error_type"})

	DroppedRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_retries_dropped_total",
		Help: "Number of retries that were dropped due to queue capacity",
	}, []string{"source_domain"})

	AttestationPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_attestation_polls_total",
		Help: "Attestation API polls by result",
	}, []string{"source_domain", "result"})

	GasPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settler_gas_price_gwei",
		Help: "Current gas price in gwei on the settlement chain",
	})
)
