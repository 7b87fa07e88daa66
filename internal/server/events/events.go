// Package events carries ledger mutations out of the request path. Publishing
// never blocks; a full buffer drops the event with a warning.
package events

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/logging"
	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	TokenIssued      Kind = "token_issued"
	TokenRefreshed   Kind = "token_refreshed"
	TokenRevoked     Kind = "token_revoked"
	TokensRevokedAll Kind = "tokens_revoked_all"
	TokensDeleted    Kind = "tokens_deleted"
)

type Event struct {
	ID       string
	Kind     Kind
	Owner    identity.ScopedUserID
	Locators []string
	Static   bool
	Count    int64
	At       time.Time
}

type Handler func(ctx context.Context, e Event) error

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a lexicographically sortable event id.
func NewID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

type Bus struct {
	ch       chan Event
	log      logging.Logger
	mu       sync.RWMutex
	handlers []Handler
}

var _ Publisher = (*Bus)(nil)

func NewBus(log logging.Logger, size int) *Bus {
	if size <= 0 {
		size = 1
	}
	return &Bus{
		ch:  make(chan Event, size),
		log: log.With("module", "events"),
	}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if e.ID == "" {
		e.ID = NewID(e.At)
	}
	select {
	case b.ch <- e:
	default:
		b.log.Warn(ctx, "event buffer full, dropping event", "kind", e.Kind, "id", e.ID)
	}
}

// Run dispatches events until ctx is done, then flushes what is already
// buffered.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(ctx, e)
		case <-ctx.Done():
			for {
				select {
				case e := <-b.ch:
					b.dispatch(context.WithoutCancel(ctx), e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			b.log.Error(ctx, "event handler failed", "kind", e.Kind, "id", e.ID, "error", err)
		}
	}
}

// LogHandler writes each event at info level. Locators are logged, tokens never.
func LogHandler(log logging.Logger) Handler {
	return func(ctx context.Context, e Event) error {
		log.Info(ctx, "ledger event",
			"id", e.ID,
			"kind", e.Kind,
			"owner", e.Owner.UniversalID(),
			"locators", e.Locators,
			"count", e.Count,
		)
		return nil
	}
}
