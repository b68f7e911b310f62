package metrics

import (
	"time"

	"github.com/ipfs-kit/perfmetrics/pkg/errors"
)

// Direction is the direction of a recorded transfer.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// ParseDirection validates a direction literal.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Inbound, Outbound:
		return Direction(s), nil
	}
	return "", errors.InvalidArgument("invalid direction %q: must be %q or %q", s, Inbound, Outbound).
		WithComponent("bandwidth")
}

// BandwidthEvent is one recorded transfer.
type BandwidthEvent struct {
	Timestamp float64 `json:"timestamp"`
	Size      int64   `json:"size"`
	Source    string  `json:"source,omitempty"`
}

// BandwidthTotals are cumulative byte and event counts per direction.
type BandwidthTotals struct {
	InboundTotal  int64 `json:"inbound_total"`
	OutboundTotal int64 `json:"outbound_total"`
	InboundCount  int64 `json:"inbound_count"`
	OutboundCount int64 `json:"outbound_count"`
}

// BandwidthLedger keeps the recent events per direction in bounded rings and
// exact cumulative totals alongside them.
type BandwidthLedger struct {
	inbound  *RingBuffer[BandwidthEvent]
	outbound *RingBuffer[BandwidthEvent]
	totals   BandwidthTotals
}

// NewBandwidthLedger creates a ledger retaining up to capacity events per direction.
func NewBandwidthLedger(capacity int) *BandwidthLedger {
	return &BandwidthLedger{
		inbound:  NewRingBuffer[BandwidthEvent](capacity),
		outbound: NewRingBuffer[BandwidthEvent](capacity),
	}
}

// Record appends an event. The direction must already be validated.
func (l *BandwidthLedger) Record(dir Direction, size int64, source string, at time.Time) {
	ev := BandwidthEvent{
		Timestamp: unixSeconds(at),
		Size:      size,
		Source:    source,
	}
	switch dir {
	case Inbound:
		l.inbound.Push(ev)
		l.totals.InboundTotal += size
		l.totals.InboundCount++
	case Outbound:
		l.outbound.Push(ev)
		l.totals.OutboundTotal += size
		l.totals.OutboundCount++
	}
}

// Totals returns the cumulative counters.
func (l *BandwidthLedger) Totals() BandwidthTotals { return l.totals }

// Events returns the retained events for one direction, oldest first.
func (l *BandwidthLedger) Events(dir Direction) []BandwidthEvent {
	if dir == Inbound {
		return l.inbound.Values()
	}
	return l.outbound.Values()
}

// Rate returns bytes per second for dir over the window ending at now,
// computed from retained events only.
func (l *BandwidthLedger) Rate(dir Direction, window time.Duration, now time.Time) float64 {
	if window <= 0 {
		return 0
	}
	ring := l.outbound
	if dir == Inbound {
		ring = l.inbound
	}
	cutoff := unixSeconds(now.Add(-window))
	var sum int64
	for _, ev := range ring.Values() {
		if ev.Timestamp >= cutoff {
			sum += ev.Size
		}
	}
	return float64(sum) / window.Seconds()
}

// Reset clears events and totals.
func (l *BandwidthLedger) Reset() {
	l.inbound.Reset()
	l.outbound.Reset()
	l.totals = BandwidthTotals{}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
