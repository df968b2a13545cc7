package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

// Produce appends a tick entry every interval until ctx is done, so the block
// height advances even when no admin activity happens.
func (l *Ledger) Produce(ctx context.Context, interval time.Duration) {
	logger := slog.Default().With("component", "ledger")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Append(ctx, KindTick, crypto.AccountID{}, nil); err != nil {
				logger.Warn("block production failed", "error", err)
			}
		}
	}
}
