package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики арбитражного демона
// ============================================================

const namespace = "arbitrage"

// ============ Биржи ============

// ExchangeConnections - состояние соединения (значение = ConnState)
var ExchangeConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "connection_state",
		Help:      "Gateway connection state (0=disconnected .. 4=streaming)",
	},
	[]string{"exchange"},
)

// ExchangeBalance - последний известный баланс по активу
var ExchangeBalance = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "balance",
		Help:      "Last reported free balance per asset",
	},
	[]string{"exchange", "asset"},
)

// MessagesReceived - входящие кадры по биржам
var MessagesReceived = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "messages_total",
		Help:      "Inbound frames by exchange and outcome",
	},
	[]string{"exchange", "result"}, // ticker, ignored, malformed
)

// Reconnects - переподключения WebSocket
var Reconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "reconnects_total",
		Help:      "WebSocket reconnect attempts",
	},
	[]string{"exchange"},
)

// ============ Шина событий ============

// EventsPublished - опубликованные события
var EventsPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Events published to the bus",
	},
	[]string{"kind"},
)

// BufferOverflows - события, отброшенные из-за полной очереди
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "buffer_overflows_total",
		Help:      "Number of events dropped because a subscriber queue was full",
	},
	[]string{"kind"},
)

// HandlerPanics - паники в обработчиках подписчиков
var HandlerPanics = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "handler_panics_total",
		Help:      "Recovered panics in bus handlers",
	},
	[]string{"kind"},
)

// ============ Торговое ядро ============

// TickToOrderLatency - от получения тикера до эмиссии ордеров
var TickToOrderLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "tick_to_order_latency_ms",
		Help:      "Latency from price tick to order emission in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
	},
	[]string{"symbol"},
)

// SpreadObserved - маржа найденных возможностей
var SpreadObserved = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "margin_observed_percent",
		Help:      "Observed cross-venue margin in percent",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2, 5},
	},
	[]string{"symbol"},
)

// OpportunitiesDetected - сделки, прошедшие сравнение цен
var OpportunitiesDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "opportunities_detected_total",
		Help:      "Deals produced by price comparison",
	},
	[]string{"symbol"},
)

// TradesTotal - попытки закрытия сделки
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "trades_total",
		Help:      "Trade attempts by result",
	},
	[]string{"symbol", "result"}, // emitted, below_min, no_balance
)

// ============ Исполнение ============

// IntentsDispatched - ордера и переводы, отправленные на биржи
var IntentsDispatched = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "intents_total",
		Help:      "Order and transfer intents by exchange, kind and result",
	},
	[]string{"exchange", "kind", "result"}, // sent, failed, unknown_exchange
)

// ExecutionLatency - время вызова биржи
var ExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "latency_ms",
		Help:      "Time spent in a gateway submission call",
		Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 5000},
	},
	[]string{"exchange", "kind"},
)

// ============================================================
// Хелперы
// ============================================================

func RecordConnectionState(exchange string, state int) {
	ExchangeConnections.WithLabelValues(exchange).Set(float64(state))
}

func RecordBalance(exchange, asset string, amount float64) {
	ExchangeBalance.WithLabelValues(exchange, asset).Set(amount)
}

func RecordMessage(exchange, result string) {
	MessagesReceived.WithLabelValues(exchange, result).Inc()
}

func RecordReconnect(exchange string) {
	Reconnects.WithLabelValues(exchange).Inc()
}

func RecordPublished(kind string) {
	EventsPublished.WithLabelValues(kind).Inc()
}

func RecordBufferOverflow(kind string) {
	BufferOverflows.WithLabelValues(kind).Inc()
}

func RecordHandlerPanic(kind string) {
	HandlerPanics.WithLabelValues(kind).Inc()
}

func RecordOpportunity(symbol string, margin float64) {
	OpportunitiesDetected.WithLabelValues(symbol).Inc()
	SpreadObserved.WithLabelValues(symbol).Observe(margin)
}

func RecordTrade(symbol, result string) {
	TradesTotal.WithLabelValues(symbol, result).Inc()
}

// RecordTickToOrder - start берётся из времени получения тикера
func RecordTickToOrder(symbol string, start time.Time) {
	TickToOrderLatency.WithLabelValues(symbol).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

func RecordIntent(exchange, kind, result string, took time.Duration) {
	IntentsDispatched.WithLabelValues(exchange, kind, result).Inc()
	if took > 0 {
		ExecutionLatency.WithLabelValues(exchange, kind).Observe(float64(took.Microseconds()) / 1000)
	}
}
