// Package retention removes expired records from the token ledger, after
// optionally archiving them to object storage. Revoked records are kept
// until they expire, so a revocation is never forgotten while the token it
// denies could still be presented.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/tokens"
)

// Archiver persists records before they are deleted.
type Archiver interface {
	Archive(ctx context.Context, recs []*models.TokenRecord) error
}

type Purger struct {
	ledger   tokens.Repository
	archiver Archiver
	batch    int
	interval time.Duration
	log      logging.Logger
	now      func() time.Time
}

// NewPurger returns a purger over ledger. archiver may be nil.
func NewPurger(ledger tokens.Repository, archiver Archiver, cfg *config.Config, log logging.Logger) *Purger {
	return &Purger{
		ledger:   ledger,
		archiver: archiver,
		batch:    cfg.PurgeBatchSize,
		interval: cfg.PurgeInterval,
		log:      log.With("module", "retention"),
		now:      time.Now,
	}
}

// RunOnce deletes every record expired at the time of the call, batch by
// batch, and returns how many were removed. A batch whose archive upload
// fails is left in place.
func (p *Purger) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now()
	var total int64

	for {
		recs, err := p.ledger.ListExpired(ctx, cutoff, p.batch)
		if err != nil {
			return total, fmt.Errorf("list expired: %w", err)
		}
		if len(recs) == 0 {
			return total, nil
		}

		if p.archiver != nil {
			if err := p.archiver.Archive(ctx, recs); err != nil {
				return total, fmt.Errorf("archive: %w", err)
			}
		}

		ids := make([]string, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID
		}
		n, err := p.ledger.DeleteExpired(ctx, ids, cutoff)
		if err != nil {
			return total, fmt.Errorf("delete expired: %w", err)
		}
		total += n

		if len(recs) < p.batch || n == 0 {
			return total, nil
		}
	}
}

// Run purges immediately and then every interval until ctx is done.
func (p *Purger) Run(ctx context.Context) error {
	if p.interval <= 0 {
		p.log.Info(ctx, "ledger purge disabled")
		return nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		n, err := p.RunOnce(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			p.log.Error(ctx, "ledger purge failed", "error", err, "purged", n)
		case n > 0:
			p.log.Info(ctx, "ledger purged", "purged", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
