// Package observability renders runtime counters in the Prometheus text
// exposition format.
package observability

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/nupi-ai/warp/internal/eventbus"
	"github.com/nupi-ai/warp/internal/session"
)

// StatusProvider exposes the session status projection.
type StatusProvider interface {
	Status() session.Status
}

// PrometheusExporter renders event, bus, request and connection metrics.
type PrometheusExporter struct {
	bus     *eventbus.Bus
	counter *EventCounter
	status  StatusProvider
}

// NewPrometheusExporter constructs an exporter. Any argument may be nil; its
// section is then omitted.
func NewPrometheusExporter(bus *eventbus.Bus, counter *EventCounter, status StatusProvider) *PrometheusExporter {
	return &PrometheusExporter{bus: bus, counter: counter, status: status}
}

// Export produces the metrics payload.
func (e *PrometheusExporter) Export() []byte {
	var buf bytes.Buffer
	e.writeEventCounters(&buf)
	e.writeBusMetrics(&buf)
	e.writeSessionMetrics(&buf)
	return buf.Bytes()
}

// ServeHTTP serves Export as text/plain.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write(e.Export())
}

func (e *PrometheusExporter) writeEventCounters(buf *bytes.Buffer) {
	if e.counter == nil {
		return
	}
	counts := e.counter.Snapshot()
	if len(counts) == 0 {
		return
	}

	writeHeader(buf, "warp_events_total", "counter", "Total number of published events per topic.")
	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, string(topic))
	}
	sort.Strings(topics)
	for _, topicName := range topics {
		fmt.Fprintf(buf, "warp_events_total{topic=%q} %d\n", topicName, counts[eventbus.Topic(topicName)])
	}
}

func (e *PrometheusExporter) writeBusMetrics(buf *bytes.Buffer) {
	if e.bus == nil {
		return
	}
	metrics := e.bus.Metrics()

	writeHeader(buf, "warp_eventbus_publish_total", "counter", "Total number of events published on the bus.")
	fmt.Fprintf(buf, "warp_eventbus_publish_total %d\n", metrics.Published)

	writeHeader(buf, "warp_eventbus_listener_panics_total", "counter", "Total number of recovered listener panics.")
	fmt.Fprintf(buf, "warp_eventbus_listener_panics_total %d\n", metrics.ListenerPanics)

	writeHeader(buf, "warp_eventbus_subscriptions", "gauge", "Number of active bus subscriptions.")
	fmt.Fprintf(buf, "warp_eventbus_subscriptions %d\n", metrics.Subscriptions)
}

func (e *PrometheusExporter) writeSessionMetrics(buf *bytes.Buffer) {
	if e.status == nil {
		return
	}
	st := e.status.Status()
	m := st.Metrics

	writeHeader(buf, "warp_requests_total", "counter", "Remote API requests by outcome.")
	fmt.Fprintf(buf, "warp_requests_total{outcome=\"success\"} %d\n", m.Successful)
	fmt.Fprintf(buf, "warp_requests_total{outcome=\"failure\"} %d\n", m.Failed)

	writeHeader(buf, "warp_request_duration_seconds_avg", "gauge", "Running mean of remote API response time.")
	fmt.Fprintf(buf, "warp_request_duration_seconds_avg %.6f\n", durationSeconds(m.AvgResponseTime))

	writeHeader(buf, "warp_bandwidth_bytes_total", "counter", "Response bytes received from the remote API.")
	fmt.Fprintf(buf, "warp_bandwidth_bytes_total %d\n", m.BandwidthBytes)

	writeHeader(buf, "warp_connected", "gauge", "Whether the realtime channel is open.")
	fmt.Fprintf(buf, "warp_connected %d\n", boolGauge(st.Connection.Connected))

	writeHeader(buf, "warp_authenticated", "gauge", "Whether the session holds a valid credential.")
	fmt.Fprintf(buf, "warp_authenticated %d\n", boolGauge(st.Connection.Authenticated))

	writeHeader(buf, "warp_reconnect_attempts", "gauge", "Consecutive reconnect attempts since the last successful connect.")
	fmt.Fprintf(buf, "warp_reconnect_attempts %d\n", st.Connection.ReconnectAttempts)

	writeHeader(buf, "warp_plugins_loaded", "gauge", "Number of active plugins.")
	fmt.Fprintf(buf, "warp_plugins_loaded %d\n", len(st.Modules))
}

func writeHeader(buf *bytes.Buffer, name, kind, help string) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func boolGauge(v bool) int {
	if v {
		return 1
	}
	return 0
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
