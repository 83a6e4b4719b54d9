package kafka_middleware

import (
	"context"
	"time"

	"bloodmatch/pkg/kafka"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts Kafka traffic per topic. A nil *Metrics records nothing.
type Metrics struct {
	Published       *prometheus.CounterVec
	PublishFailed   *prometheus.CounterVec
	PublishLatency  *prometheus.HistogramVec
	Consumed        *prometheus.CounterVec
	ConsumeFailed   *prometheus.CounterVec
	ConsumeDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	buckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	return &Metrics{
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodmatch_kafka_published_total",
			Help: "Messages published by topic",
		}, []string{"topic"}),
		PublishFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodmatch_kafka_publish_failed_total",
			Help: "Failed publishes by topic",
		}, []string{"topic"}),
		PublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bloodmatch_kafka_publish_duration_seconds",
			Help:    "Publish duration by topic",
			Buckets: buckets,
		}, []string{"topic"}),
		Consumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodmatch_kafka_consumed_total",
			Help: "Messages handled successfully by topic",
		}, []string{"topic"}),
		ConsumeFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodmatch_kafka_consume_failed_total",
			Help: "Handler failures by topic, retries included",
		}, []string{"topic"}),
		ConsumeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bloodmatch_kafka_consume_duration_seconds",
			Help:    "Handler duration by topic",
			Buckets: buckets,
		}, []string{"topic"}),
	}
}

func MetricsProducerMiddleware(m *Metrics) kafka.ProducerMiddleware {
	return func(ctx context.Context, msg kafka.Message, next func(ctx context.Context, msg kafka.Message) error) error {
		start := time.Now()
		err := next(ctx, msg)
		if m == nil {
			return err
		}

		m.PublishLatency.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
		if err != nil {
			m.PublishFailed.WithLabelValues(msg.Topic).Inc()
		} else {
			m.Published.WithLabelValues(msg.Topic).Inc()
		}
		return err
	}
}

func MetricsConsumerMiddleware(m *Metrics) kafka.ConsumerMiddleware {
	return func(ctx context.Context, msg kafka.Message, next kafka.MessageHandler) error {
		start := time.Now()
		err := next(ctx, msg)
		if m == nil {
			return err
		}

		m.ConsumeDuration.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
		if err != nil {
			m.ConsumeFailed.WithLabelValues(msg.Topic).Inc()
		} else {
			m.Consumed.WithLabelValues(msg.Topic).Inc()
		}
		return err
	}
}
