// Package metrics экспортирует события агентов в Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arzzra/sip_trial/pkg/ua"
)

const namespace = "sip_trial"

// Config конфигурация коллектора
type Config struct {
	// Subsystem подсистема метрик
	Subsystem string
	// PerAgent добавляет метку agent с индексом агента
	PerAgent bool
	// Buckets границы гистограммы длительности операций, в секундах
	Buckets []float64
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Subsystem: "ua",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}
}

// Collector реализует ua.StatusDelegate поверх счётчиков Prometheus
type Collector struct {
	cfg      Config
	statuses *prometheus.CounterVec
	elapsed  *prometheus.HistogramVec
}

var _ ua.StatusDelegate = (*Collector)(nil)

// New регистрирует метрики в reg. pending возвращает текущее число
// ожидающих каналов, nil отключает gauge.
func New(reg prometheus.Registerer, cfg Config, pending func() int) *Collector {
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = DefaultConfig().Buckets
	}
	factory := promauto.With(reg)

	labels := []string{"status"}
	if cfg.PerAgent {
		labels = append(labels, "agent")
	}

	c := &Collector{
		cfg: cfg,
		statuses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: cfg.Subsystem,
			Name:      "status_total",
			Help:      "Number of agent status notifications",
		}, labels),
		elapsed: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: cfg.Subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Time from operation start to the notification",
			Buckets:   cfg.Buckets,
		}, []string{"status"}),
	}

	if pending != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "pending_channels",
			Help:      "Outgoing INVITEs without a final response",
		}, func() float64 { return float64(pending()) })
	}
	return c
}

// OnStatus реализует ua.StatusDelegate
func (c *Collector) OnStatus(index int, status ua.StatusNotification, elapsed time.Duration) {
	name := status.String()
	if c.cfg.PerAgent {
		c.statuses.WithLabelValues(name, strconv.Itoa(index)).Inc()
	} else {
		c.statuses.WithLabelValues(name).Inc()
	}
	if elapsed > 0 {
		c.elapsed.WithLabelValues(name).Observe(elapsed.Seconds())
	}
}
