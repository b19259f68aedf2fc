// Package metrics собирает Prometheus-метрики ядра редактора.
//
// Метрики регистрируются в переданном регистре, чтобы тесты и несколько
// экземпляров редактора не конфликтовали в глобальном.
// Все методы допускают nil-получатель: компоненты без метрик просто
// передают nil.
//
// Метрики:
// * voxedit_blocks_live: живые блоки пула (gauge)
// * voxedit_blocks_cloned_total: копирования блоков при записи (counter)
// * voxedit_compose_total{view,result}: композиции, result=recomputed|cached
// * voxedit_compose_duration_seconds{view}: histogram
// * voxedit_compose_layer_errors_total: слои, пропущенные из-за ошибки
// * voxedit_history_nodes: узлы истории (gauge)
// * voxedit_history_evictions_total: вытесненные узлы (counter)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/voxedit/internal/voxel"
)

const namespace = "voxedit"

// Metrics набор метрик ядра
type Metrics struct {
	composeTotal    *prometheus.CounterVec
	composeDuration *prometheus.HistogramVec
	layerErrors     prometheus.Counter
	historyNodes    prometheus.Gauge
	evictions       prometheus.Counter
	reg             prometheus.Registerer
}

// New создает метрики и регистрирует их в reg.
// nil reg означает глобальный регистр Prometheus.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		reg: reg,
		composeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compose_total",
			Help:      "Запросы композиции слоев по виду и результату.",
		}, []string{"view", "result"}),
		composeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compose_duration_seconds",
			Help:      "Длительность пересчета композиции.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"view"}),
		layerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compose_layer_errors_total",
			Help:      "Слои, пропущенные при композиции из-за ошибки.",
		}),
		historyNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_nodes",
			Help:      "Количество узлов в истории отмены.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_evictions_total",
			Help:      "Узлы истории, вытесненные по лимиту.",
		}),
	}
	reg.MustRegister(m.composeTotal, m.composeDuration, m.layerErrors, m.historyNodes, m.evictions)
	return m
}

// WatchPool экспортирует счетчики пула блоков
func (m *Metrics) WatchPool(p *voxel.Pool) {
	if m == nil || p == nil {
		return
	}
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocks_live",
			Help:      "Живые блоки пула.",
		}, func() float64 { return float64(p.Stats().Live) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_cloned_total",
			Help:      "Копирования разделяемых блоков перед записью.",
		}, func() float64 { return float64(p.Stats().Cloned) }),
	)
}

// ObserveCompose учитывает один запрос композиции вида view
func (m *Metrics) ObserveCompose(view string, recomputed bool, d time.Duration) {
	if m == nil {
		return
	}
	if !recomputed {
		m.composeTotal.WithLabelValues(view, "cached").Inc()
		return
	}
	m.composeTotal.WithLabelValues(view, "recomputed").Inc()
	m.composeDuration.WithLabelValues(view).Observe(d.Seconds())
}

// LayerError учитывает пропущенный слой
func (m *Metrics) LayerError() {
	if m == nil {
		return
	}
	m.layerErrors.Inc()
}

// SetHistoryNodes обновляет размер истории
func (m *Metrics) SetHistoryNodes(n int) {
	if m == nil {
		return
	}
	m.historyNodes.Set(float64(n))
}

// HistoryEviction учитывает вытесненный узел
func (m *Metrics) HistoryEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}
