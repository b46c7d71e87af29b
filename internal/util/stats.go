package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/connection counter.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // cumulative count of connections since process start
	ClosedConns atomic.Int64 // cumulative count of disconnected connections
	BytesSent   atomic.Int64 // cumulative frame bytes written (compressed, incl. length prefix)
	BytesRecv   atomic.Int64 // cumulative frame bytes read (compressed, incl. length prefix)
	FramesSent  atomic.Int64
	FramesRecv  atomic.Int64
}

func (s *stats) AddConn()      { s.TotalConns.Add(1) }
func (s *stats) RemoveConn()   { s.ClosedConns.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }
func (s *stats) FrameSent()    { s.FramesSent.Add(1) }
func (s *stats) FrameRecv()    { s.FramesRecv.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// reportInterval is how often StartStatsReporter samples the counters.
const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs link statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if line, ok := formatDelta(prev, cur, reportInterval.Seconds()); ok {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	sent, recv, frOut, frIn, total, closed int64
}

func takeSnapshot() snapshot {
	return snapshot{
		sent:   Stats.BytesSent.Load(),
		recv:   Stats.BytesRecv.Load(),
		frOut:  Stats.FramesSent.Load(),
		frIn:   Stats.FramesRecv.Load(),
		total:  Stats.TotalConns.Load(),
		closed: Stats.ClosedConns.Load(),
	}
}

// formatDelta renders the difference between two snapshots. It reports false
// when the link was idle, so quiet periods do not spam the log.
func formatDelta(prev, cur snapshot, seconds float64) (string, bool) {
	outS := float64(cur.sent-prev.sent) / seconds
	inS := float64(cur.recv-prev.recv) / seconds
	upC := cur.total - prev.total
	downC := cur.closed - prev.closed
	frames := (cur.frOut - prev.frOut) + (cur.frIn - prev.frIn)

	if upC == 0 && downC == 0 && frames == 0 {
		return "", false
	}
	return fmt.Sprintf("In: %s/s | Out: %s/s | Frames: %4d | Conn: %2d↑ %2d↓",
		formatBytes(inS),
		formatBytes(outS),
		frames,
		upC,
		downC,
	), true
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}
