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

// Package lock implements a named distributed mutex on top of the store's
// conditional set. It is not reentrant and not renewable: the TTL passed to
// TryLock bounds the worst-case hold time if the owner crashes.
//
// Instances on different processes coordinate only through the store; a
// failed TryLock returns immediately and never queues. Retry and backoff
// policy belong to the caller.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flashsale/internal/flashsale/kv"
)

// KeyPrefix is prepended to every lock name, giving keys like "lock:shop:7".
const KeyPrefix = "lock:"

// Store is the subset of the KV client the lock needs.
type Store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) (bool, error)
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// unlockScript deletes the lock only when the stored token still matches the
// caller's. Running compare and delete as one script closes the race where the
// TTL expires (and another holder acquires) between the two steps.
const unlockScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
end
return 0
`

// Mutex is one acquisition context for a named lock. The owner token is
// unique per Mutex so that a holder whose TTL already expired cannot release
// a lock that has since been acquired by someone else.
type Mutex struct {
	store Store
	key   string
	token string
}

// New creates a mutex for the given name, e.g. "shop:7" or "order:1024".
func New(store Store, name string) *Mutex {
	return &Mutex{
		store: store,
		key:   KeyPrefix + name,
		token: uuid.NewString(),
	}
}

// TryLock makes a single non-blocking attempt. It returns true iff this
// mutex now holds the lock. The TTL is mandatory and must be positive.
func (m *Mutex) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lock: ttl must be positive, got %v", ttl)
	}
	ok, err := m.store.SetNX(ctx, m.key, m.token, ttl)
	if err != nil {
		return false, fmt.Errorf("lock: acquire %s: %w", m.key, err)
	}
	return ok, nil
}

// Unlock releases the lock if this mutex still owns it. Releasing a lock that
// expired or was never held is a silent no-op, matching mutual-exclusion
// semantics: by then some other holder may legitimately own the key.
func (m *Mutex) Unlock(ctx context.Context) error {
	_, err := m.store.Eval(ctx, unlockScript, []string{m.key}, m.token)
	if err != nil && !errors.Is(err, kv.ErrNil) {
		return fmt.Errorf("lock: release %s: %w", m.key, err)
	}
	return nil
}

// Token exposes the owner token for diagnostics and tests.
func (m *Mutex) Token() string { return m.token }

// Key exposes the full store key for diagnostics and tests.
func (m *Mutex) Key() string { return m.key }
