// Package server counts relay activity and renders it in the Prometheus
// exposition format.
package server

import (
	"fmt"
	"io"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

const metricsNamespace = "relay_"

// Metrics holds process-wide relay counters. The zero value is ready to use.
type Metrics struct {
	admitted         atomic.Uint64
	removed          atomic.Uint64
	broadcasts       atomic.Uint64
	deliveries       atomic.Uint64
	deliveryFailures atomic.Uint64
	skippedClosed    atomic.Uint64
	chatRelayed      atomic.Uint64
	malformed        atomic.Uint64
	rateLimited      atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Admitted         uint64
	Removed          uint64
	Broadcasts       uint64
	Deliveries       uint64
	DeliveryFailures uint64
	SkippedClosed    uint64
	ChatRelayed      uint64
	Malformed        uint64
	RateLimited      uint64
}

// NewMetrics returns an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Admitted:         m.admitted.Load(),
		Removed:          m.removed.Load(),
		Broadcasts:       m.broadcasts.Load(),
		Deliveries:       m.deliveries.Load(),
		DeliveryFailures: m.deliveryFailures.Load(),
		SkippedClosed:    m.skippedClosed.Load(),
		ChatRelayed:      m.chatRelayed.Load(),
		Malformed:        m.malformed.Load(),
		RateLimited:      m.rateLimited.Load(),
	}
}

// Families renders the counters, plus the current member count, as metric
// families.
func (m *Metrics) Families(members int) []*dto.MetricFamily {
	s := m.Snapshot()
	return []*dto.MetricFamily{
		gaugeFamily("members", "Connections currently in the registry.", float64(members)),
		counterFamily("admitted_total", "Connections admitted to the registry.", s.Admitted),
		counterFamily("removed_total", "Connections removed from the registry.", s.Removed),
		counterFamily("broadcasts_total", "Fan-out operations started.", s.Broadcasts),
		counterFamily("deliveries_total", "Frames queued to members.", s.Deliveries),
		counterFamily("delivery_failures_total", "Frames that could not be queued to a member.", s.DeliveryFailures),
		counterFamily("skipped_closed_total", "Members skipped because their transport was closed.", s.SkippedClosed),
		counterFamily("chat_messages_total", "Chat messages relayed.", s.ChatRelayed),
		counterFamily("malformed_payloads_total", "Inbound frames dropped as malformed.", s.Malformed),
		counterFamily("rate_limited_total", "Inbound frames dropped by the rate limiter.", s.RateLimited),
	}
}

// Expose encodes the metric families to w in the given exposition format.
func (m *Metrics) Expose(w io.Writer, format expfmt.Format, members int) error {
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range m.Families(members) {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		return closer.Close()
	}
	return nil
}

func counterFamily(name, help string, v uint64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(metricsNamespace + name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: proto.Float64(float64(v))}},
		},
	}
}

func gaugeFamily(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(metricsNamespace + name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: proto.Float64(v)}},
		},
	}
}
