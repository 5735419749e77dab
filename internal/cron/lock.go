package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLeaseTTL = 25 * time.Hour

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

// SweepLease lets one cron worker per environment run the ledger sweeps.
// The stored value names the holding instance so operators can see who owns
// a stuck lease.
type SweepLease struct {
	store    leaseStore
	key      string
	ttl      time.Duration
	instance string
	token    string
}

// NewSweepLease builds a lease for the environment's sweep cycle.
func NewSweepLease(store leaseStore, env, instance string, ttl time.Duration) (*SweepLease, error) {
	if store == nil {
		return nil, errors.New("redis client required for sweep lease")
	}
	env = strings.TrimSpace(env)
	if env == "" {
		env = "local"
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &SweepLease{
		store:    store,
		key:      store.LockKey("ledger-sweeps:" + env),
		ttl:      ttl,
		instance: instance,
	}, nil
}

// Key is the namespaced redis key guarding the sweeps.
func (l *SweepLease) Key() string { return l.key }

// Acquire claims the lease for ttl; false means another worker holds it.
func (l *SweepLease) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	if l.instance != "" {
		token = l.instance + "/" + token
	}
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("claim sweep lease: %w", err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release drops the lease when this worker still holds it. A lease that
// expired and was claimed by another worker is left alone.
func (l *SweepLease) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""

	holder, err := l.store.Get(ctx, l.key)
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("read sweep lease holder: %w", err)
	case holder != token:
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("drop sweep lease: %w", err)
	}
	return nil
}
