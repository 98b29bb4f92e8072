package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide signaling/store activity counter.
var Stats = &stats{}

type stats struct {
	EnvelopesSent atomic.Int64 // cumulative envelopes written to the transport
	EnvelopesRecv atomic.Int64 // cumulative envelopes received from the transport
	OpsApplied    atomic.Int64 // cumulative annotation ops applied (local + remote)
	OpsDiscarded  atomic.Int64 // cumulative stale/duplicate ops silently dropped
	PresencePings atomic.Int64 // cumulative presence updates received
}

func (s *stats) AddSent()         { s.EnvelopesSent.Add(1) }
func (s *stats) AddRecv()         { s.EnvelopesRecv.Add(1) }
func (s *stats) AddOpApplied()    { s.OpsApplied.Add(1) }
func (s *stats) AddOpDiscarded()  { s.OpsDiscarded.Add(1) }
func (s *stats) AddPresencePing() { s.PresencePings.Add(1) }

// StartStatsReporter launches a goroutine that logs session activity every
// 10 seconds when something changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevOps int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.EnvelopesSent.Load()
				recv := Stats.EnvelopesRecv.Load()
				ops := Stats.OpsApplied.Load()

				if sent != prevSent || recv != prevRecv || ops != prevOps {
					pterm.DefaultLogger.Info(fmt.Sprintf(
						"Env: %4d↑ %4d↓ | Ops: %4d (%d stale) | Presence: %d",
						sent-prevSent,
						recv-prevRecv,
						ops-prevOps,
						Stats.OpsDiscarded.Load(),
						Stats.PresencePings.Load(),
					))
				}

				prevSent = sent
				prevRecv = recv
				prevOps = ops

			case <-ctx.Done():
				return
			}
		}
	}()
}
