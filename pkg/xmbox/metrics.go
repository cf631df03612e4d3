package xmbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the mailbox metrics. Nothing serves it over HTTP, the CLI
// writes it to a textfile for node-exporter.
var Registry = prometheus.NewRegistry()

var (
	messagesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorbus",
			Subsystem: "mailbox",
			Name:      "messages_sent_total",
			Help:      "Messages written to peer queues, by type.",
		},
		[]string{"mailbox", "type"},
	)
	messagesReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorbus",
			Subsystem: "mailbox",
			Name:      "messages_received_total",
			Help:      "Messages read from the own queue, by type.",
		},
		[]string{"mailbox", "type"},
	)
	holdsSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorbus",
			Subsystem: "mailbox",
			Name:      "holds_total",
			Help:      "HOLD replies sent to deferred senders.",
		},
		[]string{"mailbox"},
	)
	ttlExhausted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorbus",
			Subsystem: "mailbox",
			Name:      "ttl_exhausted_total",
			Help:      "Acknowledgement waits that ran out of TTL.",
		},
		[]string{"mailbox"},
	)
	timeouts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorbus",
			Subsystem: "mailbox",
			Name:      "timeouts_total",
			Help:      "Bounded waits that expired, by protocol phase.",
		},
		[]string{"mailbox", "phase"},
	)
	transportErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorbus",
			Subsystem: "mailbox",
			Name:      "transport_errors_total",
			Help:      "Queue operations that failed, by operation.",
		},
		[]string{"mailbox", "op"},
	)
	waitingList = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "doorbus",
			Subsystem: "mailbox",
			Name:      "waiting_list",
			Help:      "Senders deferred in the waiting list.",
		},
		[]string{"mailbox"},
	)
)

// WriteMetrics dumps the registry in the textfile collector format.
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
