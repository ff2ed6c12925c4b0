// Package promexport exposes controller metrics as Prometheus collectors.
//
// The collectors read the atomic counters of a controller.Controller at scrape time,
// so registering them adds no work to the I/O loop.
package promexport

import (
	"net/http"

	"github.com/arloliu/go-cnc/controller"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "cnc"
	subsystem = "controller"
)

// Collector is a prometheus.Collector over the metrics of one controller.
type Collector struct {
	collectors []prometheus.Collector
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates the collectors for c. constLabels are attached to every series,
// typically the machine name.
func NewCollector(c *controller.Controller, constLabels prometheus.Labels) *Collector {
	m := c.Metrics()

	counter := func(name, help string, fn func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, func() float64 { return float64(fn()) })
	}
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, fn)
	}

	return &Collector{collectors: []prometheus.Collector{
		counter("bytes_sent_total", "Bytes written to the transport.", m.BytesSent.Load),
		counter("bytes_received_total", "Bytes read from the transport.", m.BytesReceived.Load),
		counter("lines_sent_total", "Command lines written.", m.LinesSent.Load),
		counter("lines_acked_total", "Command lines acknowledged with ok.", m.LinesAcked.Load),
		counter("line_errors_total", "Command lines answered with an error.", m.LineErrors.Load),
		counter("realtime_sent_total", "Real-time commands written.", m.RealtimeSent.Load),
		counter("status_reports_total", "Status reports received.", m.StatusReports.Load),
		counter("protocol_errors_total", "Malformed or unexpected responses.", m.ProtocolErrors.Load),
		counter("unrecognized_total", "Output lines no grammar rule matched.", m.Unrecognized.Load),
		counter("discarded_responses_total", "Stale responses dropped after a reset.", m.DiscardedResponses.Load),
		counter("alarms_total", "Alarms raised.", m.Alarms.Load),
		counter("jobs_started_total", "Streaming jobs started.", m.JobsStarted.Load),
		counter("jobs_completed_total", "Streaming jobs that ran to their end.", m.JobsCompleted.Load),
		counter("connections_total", "Sessions established.", m.Connections.Load),
		gauge("bytes_in_flight", "Receive buffer bytes occupied by unacknowledged lines.", func() float64 {
			return float64(m.BytesInFlight.Load())
		}),
		gauge("pending_commands", "Unacknowledged command lines.", func() float64 {
			return float64(m.PendingCommands.Load())
		}),
		gauge("reconnect_attempts", "Reconnection attempts of the current outage.", func() float64 {
			return float64(m.ReconnectGauge.Load())
		}),
		gauge("connected", "1 when a session is established.", func() float64 {
			if c.State().IsConnected() {
				return 1
			}
			return 0
		}),
		gauge("state", "Current controller state as its numeric code.", func() float64 {
			return float64(c.State())
		}),
	}}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, col := range c.collectors {
		col.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, col := range c.collectors {
		col.Collect(ch)
	}
}

// Register registers the collectors of c with reg.
func Register(reg prometheus.Registerer, c *controller.Controller, constLabels prometheus.Labels) (*Collector, error) {
	col := NewCollector(c, constLabels)
	if err := reg.Register(col); err != nil {
		return nil, err
	}

	return col, nil
}

// Handler returns an HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
