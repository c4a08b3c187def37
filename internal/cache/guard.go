package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/github-report/internal/apperror"
	"github.com/sakif/github-report/internal/repository"
)

// releaseTimeout bounds the store call made by Lease.Release.
const releaseTimeout = 5 * time.Second

// Guard is a per-key "generation in progress" marker shared by every
// instance through the store. A marker expires on its own after ttl, so a
// crashed holder blocks the key for at most that long.
type Guard struct {
	store     repository.KVStore
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewGuard creates a guard whose markers live under "{namespace}:{key}".
func NewGuard(store repository.KVStore, namespace string, ttl time.Duration, logger *slog.Logger) *Guard {
	return &Guard{
		store:     store,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
	}
}

func (g *Guard) key(key string) string {
	return g.namespace + ":" + key
}

// IsHeld reports whether a live marker exists for key. A store failure is
// logged and reported as not held.
func (g *Guard) IsHeld(ctx context.Context, key string) bool {
	_, err := g.store.Get(ctx, g.key(key))
	if err == nil {
		return true
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		g.logger.Warn("pending check failed, assuming free",
			slog.String("key", g.key(key)),
			slog.String("error", err.Error()),
		)
	}
	return false
}

// TryAcquire sets the marker for key if no live marker exists. It returns
// false when another holder has it.
//
// WHY SETNX AND NOT GET THEN SET?
// Two instances can both see "no marker" between a GET and a SET. SETNX
// makes check and write one store operation, so exactly one of them wins.
//
// If the store itself fails the guard fails open: the caller gets a lease
// and proceeds, because the marker only prevents duplicate work.
func (g *Guard) TryAcquire(ctx context.Context, key string) (*Lease, bool) {
	token := xid.New().String()
	lease := &Lease{guard: g, key: g.key(key), token: token}

	ok, err := g.store.SetNX(ctx, lease.key, []byte(token), g.ttl)
	if err != nil {
		g.logger.Warn("pending marker write failed, proceeding unguarded",
			slog.String("key", lease.key),
			slog.String("error", err.Error()),
		)
		return lease, true
	}
	if !ok {
		return nil, false
	}
	return lease, true
}

// Lease is a held marker. Release must be called on every exit path; extra
// calls are no-ops.
//
// WHY A TOKEN?
// Markers expire. If a holder runs past the ttl, its marker disappears and a
// second request may take the key with a marker of its own. A plain DELETE
// from the first holder would then remove the second holder's marker. Each
// lease writes a unique xid as the value and releases with
// CompareAndDelete, so it can only ever remove the marker it wrote.
type Lease struct {
	guard *Guard
	key   string
	token string
	once  sync.Once
}

// Release deletes the marker if it still belongs to this lease. It uses its
// own context so that a cancelled request still clears its marker.
func (l *Lease) Release(ctx context.Context) {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()

		ok, err := l.guard.store.CompareAndDelete(ctx, l.key, []byte(l.token))
		if err != nil {
			l.guard.logger.Warn("pending marker release failed, will expire",
				slog.String("key", l.key),
				slog.String("error", err.Error()),
			)
			return
		}
		if !ok {
			l.guard.logger.Debug("pending marker already gone", slog.String("key", l.key))
		}
	})
}
