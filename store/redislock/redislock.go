// Package redislock implements ledger.Locker on top of Redis so that several
// server processes serialize writes to the same customer account.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/cylinder-ledger/ledger"
)

const (
	DefaultTTL  = 10 * time.Second
	DefaultWait = 5 * time.Second
	retryEvery  = 25 * time.Millisecond
)

// Locker obtains per-key Redis locks.
type Locker struct {
	client *redislock.Client

	// Prefix namespaces every key, e.g. "cylinders:".
	Prefix string
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration
	// Wait bounds how long Lock retries before giving up.
	Wait   time.Duration
	Logger *logrus.Logger
}

// New returns a Locker using rdb. Zero durations take the defaults.
func New(rdb redis.UniversalClient, ttl time.Duration, logger *logrus.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Locker{
		client: redislock.New(rdb),
		Prefix: "cylinders:",
		TTL:    ttl,
		Wait:   DefaultWait,
		Logger: logger,
	}
}

// Lock retries until the key is free, Wait elapses or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	wait := l.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	obtainCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	lockKey := l.Prefix + key
	lock, err := l.client.Obtain(obtainCtx, lockKey, l.TTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(retryEvery),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", lockKey, ledger.ErrLockNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain %s: %w", lockKey, err)
	}

	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.Logger.WithField("key", lockKey).Error("release lock: " + err.Error())
		}
	}, nil
}

var _ ledger.Locker = (*Locker)(nil)
