package platform

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chess-activity-tracker/internal/domain"
)

// SlotReserver reserves a request slot shared across processes. The
// Redis cache implements this; when absent the pacer is purely local.
type SlotReserver interface {
	ReserveRequestSlot(ctx context.Context, pf domain.Platform, spacing time.Duration) (bool, error)
}

// Pacer serializes outbound requests per platform with a minimum
// spacing. It is the only shared mutable resource of a sync run:
// concurrent requests to the same platform for different users all queue
// behind the same slot.
type Pacer struct {
	mu      sync.Mutex
	next    map[domain.Platform]time.Time
	spacing map[domain.Platform]time.Duration
	slots   SlotReserver
	logger  *slog.Logger
}

// NewPacer creates a pacer with no configured platforms
func NewPacer(logger *slog.Logger) *Pacer {
	return &Pacer{
		next:    make(map[domain.Platform]time.Time),
		spacing: make(map[domain.Platform]time.Duration),
		logger:  logger,
	}
}

// SetSpacing configures the minimum inter-request interval for a platform
func (p *Pacer) SetSpacing(pf domain.Platform, spacing time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spacing[pf] = spacing
}

// SetReserver attaches a shared slot reserver (Redis-backed)
func (p *Pacer) SetReserver(r SlotReserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = r
}

// Wait blocks until a request to the platform is allowed, or the context
// is done
func (p *Pacer) Wait(ctx context.Context, pf domain.Platform) error {
	p.mu.Lock()
	spacing := p.spacing[pf]
	slots := p.slots
	p.mu.Unlock()
	if spacing <= 0 {
		return ctx.Err()
	}

	for {
		p.mu.Lock()
		now := time.Now()
		next := p.next[pf]
		if !now.Before(next) {
			p.next[pf] = now.Add(spacing)
			p.mu.Unlock()
			break
		}
		wait := next.Sub(now)
		p.mu.Unlock()
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	if slots == nil {
		return nil
	}
	for {
		ok, err := slots.ReserveRequestSlot(ctx, pf, spacing)
		if err != nil {
			// Shared reservation is best effort; local spacing above
			// already applies
			p.logger.Warn("request slot reservation failed",
				"platform", pf,
				"error", err,
			)
			return nil
		}
		if ok {
			return nil
		}
		if err := sleep(ctx, spacing); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
