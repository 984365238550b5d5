// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the generic read-through cache façade with two
// independent protection strategies:
//
//   - Pass-through (QueryWithPassthrough): cache-aside with null markers, so
//     repeated lookups for nonexistent ids never reach the backing store more
//     than once per marker TTL.
//   - Logical expiration (QueryWithLogicalExpiry): entries carry an
//     application-level expiry alongside the payload and no physical TTL.
//     Expired reads return the stale payload immediately while at most one
//     rebuild per id runs asynchronously under a distributed lock.
//
// Business code supplies the payload type at construction and a loader that
// reads the backing store; it never touches raw keys.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"flashsale/internal/flashsale/kv"
	"flashsale/internal/flashsale/telemetry"
)

// ErrNotFound reports that an entity is absent in both cache and backing
// store. It is a terminal result, not a failure.
var ErrNotFound = errors.New("cache: not found")

// Store is the subset of the KV client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) (bool, error)
}

// Mutex is the single-flight primitive guarding rebuilds, one per id.
type Mutex interface {
	TryLock(ctx context.Context, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context) error
}

// MutexFactory builds the per-id rebuild lock, e.g. wrapping lock.New.
// The name passed in already includes the configured lock prefix and id.
type MutexFactory func(name string) Mutex

// Loader fetches an entity from the backing store. found=false means the id
// does not exist there, which is not an error.
type Loader[T any] func(ctx context.Context, id string) (value T, found bool, err error)

// Options fixes the key layout and time policy for one entity kind.
type Options struct {
	// Prefix is prepended to ids to form cache keys, e.g. "cache:shop:".
	Prefix string
	// LockPrefix names the per-id rebuild locks, e.g. "shop:". The lock
	// package adds its own "lock:" namespace on top.
	LockPrefix string
	// TTL is the physical TTL used by the pass-through strategy.
	TTL time.Duration
	// NullTTL bounds how long a null marker suppresses backing-store reads.
	NullTTL time.Duration
	// LogicalTTL is the freshness horizon written on rebuilds.
	LogicalTTL time.Duration
	// LockTTL bounds a crashed rebuild's hold on the per-id lock.
	LockTTL time.Duration
	// Now is the clock for logical-expiry decisions. Defaults to time.Now.
	Now func() time.Time
}

// envelope is the wire form of a logically expiring entry. The underlying
// store key carries no physical TTL; staleness is governed by ExpireAt alone.
type envelope struct {
	Data     json.RawMessage `json:"data"`
	ExpireAt time.Time       `json:"expireAt"`
}

// Client is the cache façade for one entity kind T.
type Client[T any] struct {
	store    Store
	newMutex MutexFactory
	pool     *Pool
	opts     Options
}

// New builds a client. The pool is shared across entity kinds; pass the same
// instance to every New call in the process.
func New[T any](store Store, newMutex MutexFactory, pool *Pool, opts Options) *Client[T] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	return &Client[T]{store: store, newMutex: newMutex, pool: pool, opts: opts}
}

func (c *Client[T]) key(id string) string      { return c.opts.Prefix + id }
func (c *Client[T]) lockName(id string) string { return c.opts.LockPrefix + id }

// Set writes an entity with a physical TTL, for the pass-through strategy.
func (c *Client[T]) Set(ctx context.Context, id string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", c.key(id), err)
	}
	return c.store.Set(ctx, c.key(id), string(raw), c.opts.TTL)
}

// Delete evicts an entity. This is the write-path half of cache consistency:
// update the backing store first, then evict, so the next read reloads the
// committed row instead of racing a rewrite.
func (c *Client[T]) Delete(ctx context.Context, id string) error {
	_, err := c.store.Del(ctx, c.key(id))
	return err
}

// SetWithLogicalExpiry pre-warms an entity for the logical-expiry strategy.
// The store entry gets no physical TTL; the envelope carries the expiry.
func (c *Client[T]) SetWithLogicalExpiry(ctx context.Context, id string, value T, logicalTTL time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", c.key(id), err)
	}
	env := envelope{Data: data, ExpireAt: c.opts.Now().Add(logicalTTL)}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cache: encode envelope %s: %w", c.key(id), err)
	}
	return c.store.Set(ctx, c.key(id), string(raw), 0)
}

// QueryWithPassthrough reads through the cache, protecting the backing store
// from penetration: a confirmed-absent id is cached as an empty marker for
// NullTTL, during which reads return ErrNotFound without invoking the loader.
func (c *Client[T]) QueryWithPassthrough(ctx context.Context, id string, loader Loader[T]) (T, error) {
	var zero T
	key := c.key(id)

	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil && raw != "":
		var value T
		if uerr := json.Unmarshal([]byte(raw), &value); uerr != nil {
			// Corrupt entry: drop it and reload below.
			log.Printf("cache: corrupt entry at %s, deleting: %v", key, uerr)
			if _, derr := c.store.Del(ctx, key); derr != nil {
				return zero, derr
			}
		} else {
			telemetry.CacheHit()
			return value, nil
		}
	case err == nil:
		// Null marker: confirmed absent, loader stays untouched.
		telemetry.CacheNullMarkerHit()
		return zero, ErrNotFound
	case !errors.Is(err, kv.ErrNil):
		return zero, err
	}

	telemetry.CacheMiss()
	value, found, err := loader(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("cache: load %s: %w", key, err)
	}
	if !found {
		if serr := c.store.Set(ctx, key, "", c.opts.NullTTL); serr != nil {
			return zero, serr
		}
		return zero, ErrNotFound
	}
	if serr := c.Set(ctx, id, value); serr != nil {
		return zero, serr
	}
	return value, nil
}

// QueryWithLogicalExpiry serves hot entities with bounded read latency. A key
// that is absent is a cold-start case (this strategy never loads
// synchronously) and returns ErrNotFound: pre-warm with SetWithLogicalExpiry.
// An expired entry is returned as-is while a single asynchronous rebuild per
// id refreshes it under the per-id lock.
func (c *Client[T]) QueryWithLogicalExpiry(ctx context.Context, id string, loader Loader[T]) (T, error) {
	var zero T
	key := c.key(id)

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNil) {
			return zero, ErrNotFound
		}
		return zero, err
	}

	env, payload, derr := decodeEnvelope[T](raw)
	if derr != nil {
		// Corrupt with no stale fallback in hand: drop and report absent.
		log.Printf("cache: corrupt envelope at %s, deleting: %v", key, derr)
		if _, del := c.store.Del(ctx, key); del != nil {
			return zero, del
		}
		return zero, ErrNotFound
	}

	now := c.opts.Now()
	if env.ExpireAt.After(now) {
		telemetry.CacheHit()
		return payload, nil
	}

	// Expired: try to become the single rebuilder for this id.
	mu := c.newMutex(c.lockName(id))
	acquired, lerr := mu.TryLock(ctx, c.opts.LockTTL)
	if lerr != nil || !acquired {
		// A rebuild is already in flight elsewhere (or the store hiccuped);
		// either way the reader never blocks and serves what it has.
		telemetry.CacheStaleServed()
		return payload, nil
	}

	// Double-check under the lock: another instance may have rebuilt and
	// released between our first read and this acquisition.
	if latest, gerr := c.store.Get(ctx, key); gerr == nil {
		latestEnv, latestPayload, perr := decodeEnvelope[T](latest)
		if perr != nil {
			// A corrupt entry must never wedge the lock.
			log.Printf("cache: corrupt envelope at %s on re-read, deleting: %v", key, perr)
			if _, del := c.store.Del(ctx, key); del != nil {
				c.unlock(mu)
				return zero, del
			}
		} else if latestEnv.ExpireAt.After(now) {
			c.unlock(mu)
			telemetry.CacheHit()
			return latestPayload, nil
		}
	}

	task := func() {
		defer c.unlock(mu)
		c.rebuild(id, loader)
	}
	if !c.pool.Submit(task) {
		// Pool saturated: drop the rebuild but never hold the lock for it.
		c.unlock(mu)
	}

	telemetry.CacheStaleServed()
	return payload, nil
}

// rebuild reloads the entity and rewrites its envelope. It runs on the pool,
// detached from the request that triggered it, so it uses its own context.
func (c *Client[T]) rebuild(id string, loader Loader[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.LockTTL)
	defer cancel()

	telemetry.CacheRebuild()
	value, found, err := loader(ctx, id)
	if err != nil {
		log.Printf("cache: rebuild %s failed: %v", c.key(id), err)
		return
	}
	if !found {
		// The entity was deleted underneath the cache; retire the entry so
		// readers stop serving it.
		if _, derr := c.store.Del(ctx, c.key(id)); derr != nil {
			log.Printf("cache: retire %s failed: %v", c.key(id), derr)
		}
		return
	}
	if err := c.SetWithLogicalExpiry(ctx, id, value, c.opts.LogicalTTL); err != nil {
		log.Printf("cache: rewrite %s failed: %v", c.key(id), err)
	}
}

// unlock releases a rebuild lock with a store-call context independent of the
// (possibly finished) request.
func (c *Client[T]) unlock(mu Mutex) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mu.Unlock(ctx); err != nil {
		log.Printf("cache: unlock failed: %v", err)
	}
}

func decodeEnvelope[T any](raw string) (envelope, T, error) {
	var env envelope
	var payload T
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return env, payload, err
	}
	if len(env.Data) == 0 {
		return env, payload, fmt.Errorf("envelope has no payload")
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return env, payload, err
	}
	return env, payload, nil
}
