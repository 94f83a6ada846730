package market

import (
	"context"
	"sync"
	"time"

	"github.com/quantflow/argus/pkg/models"
)

// stockLister is the slice of Orchestrator the resolver needs.
type stockLister interface {
	StockListWithFallback(ctx context.Context, preferred ...string) ([]models.StockInfo, string)
}

// nameRefreshRetry is the backoff after a failed table refresh.
const nameRefreshRetry = 5 * time.Minute

// NameResolver caches the code → display-name table from the stock list.
// Report titles and notifications look names up often; the table changes
// rarely.
type NameResolver struct {
	source stockLister
	ttl    time.Duration

	mu    sync.RWMutex
	names map[string]string
	next  time.Time
}

// NewNameResolver creates a resolver; ttl <= 0 means 12 hours.
func NewNameResolver(source stockLister, ttl time.Duration) *NameResolver {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &NameResolver{source: source, ttl: ttl}
}

// Name resolves a display name. Unresolvable codes come back unchanged so
// callers can always render something.
func (r *NameResolver) Name(ctx context.Context, code string) string {
	symbol := NormalizeCode(code)
	if symbol == "" {
		return code
	}

	r.mu.RLock()
	name, fresh := r.names[symbol], time.Now().Before(r.next)
	r.mu.RUnlock()
	if fresh {
		if name != "" {
			return name
		}
		return code
	}

	r.refresh(ctx)

	r.mu.RLock()
	name = r.names[symbol]
	r.mu.RUnlock()
	if name != "" {
		return name
	}
	return code
}

// refresh swaps in a new table. A failed fetch keeps the stale table and
// backs off instead of hammering the providers on every lookup.
func (r *NameResolver) refresh(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Now().Before(r.next) {
		return
	}

	stocks, _ := r.source.StockListWithFallback(ctx)
	if len(stocks) == 0 {
		r.next = time.Now().Add(nameRefreshRetry)
		return
	}

	names := make(map[string]string, len(stocks))
	for _, s := range stocks {
		if s.Symbol != "" && s.Name != "" {
			names[s.Symbol] = s.Name
		}
	}
	r.names = names
	r.next = time.Now().Add(r.ttl)
}
