package rislive

import (
	"context"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/rib"
	"go.uber.org/zap"
)

// Capture streams updates into the snapshot's after window until the
// deadline passes or ctx is cancelled. It starts and stops the clients and
// returns the number of updates applied. Collectors in want are present in
// the after table even if nothing arrives for them. A MultiClient captures
// once.
func (mc *MultiClient) Capture(ctx context.Context, snap *rib.Snapshot, until time.Time, want []string) (int, error) {
	if snap.After == nil {
		snap.After = rib.New()
	}
	for _, c := range want {
		snap.After.Ensure(c)
	}

	mc.Start()
	defer mc.Stop()

	timer := time.NewTimer(time.Until(until))
	defer timer.Stop()

	applied := 0
	for {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		case <-timer.C:
			st := mc.Totals()
			mc.logger.Info("capture window closed",
				zap.Int("updates", applied),
				zap.Uint64("messages", st.MessagesReceived),
				zap.Uint64("reconnects", st.Reconnects))
			return applied, nil
		case update, ok := <-mc.Updates():
			if !ok {
				return applied, nil
			}
			snap.ApplyAfter(update)
			applied++
		}
	}
}
