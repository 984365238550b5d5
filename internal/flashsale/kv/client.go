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

// Package kv wraps the remote key-value store behind the narrow surface the
// rest of the service needs: string values with TTL, conditional set, atomic
// increment, sorted sets, plain sets, bit operations, atomic Lua scripts, and
// consumer-group streams.
//
// Two error conditions matter to callers and are normalized here:
//   - ErrNil: the key (or member) is absent. A legitimate terminal result.
//   - ErrUnavailable: the store could not be reached or timed out. Callers
//     decide the fallback; nothing in this package retries.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	// ErrNil marks key/member absence, mirroring redis.Nil.
	ErrNil = errors.New("kv: nil")
	// ErrUnavailable marks transport-level failures (network, timeout).
	ErrUnavailable = errors.New("kv: store unavailable")
)

// StreamMessage is one entry read from a stream.
type StreamMessage struct {
	ID     string
	Values map[string]string
}

// Store is the full client surface. The production implementation is Redis;
// Memory implements the same surface in-process for tests and demo runs.
// Consumers should depend on the narrowest subset they need, not on Store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key, member string) error
	ZScore(ctx context.Context, key, member string) (float64, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SInter(ctx context.Context, keys ...string) ([]string, error)

	SetBit(ctx context.Context, key string, offset int64, value int) error
	BitFieldGetUnsigned(ctx context.Context, key string, bits int, offset int64) (int64, error)

	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)

	XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error)
	XGroupCreate(ctx context.Context, stream, group string) error
	XReadGroup(ctx context.Context, group, consumer, stream, offset string, count int64, block time.Duration) ([]StreamMessage, error)
	XAck(ctx context.Context, stream, group, id string) error
}

// Redis is the production Store backed by github.com/redis/go-redis/v9.
type Redis struct {
	c *redis.Client
}

// NewRedis connects to the given address, e.g. "127.0.0.1:6379".
func NewRedis(addr string) *Redis {
	return &Redis{c: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisFromClient wraps an existing client (shared pools, sentinel, etc.).
func NewRedisFromClient(c *redis.Client) *Redis {
	return &Redis{c: c}
}

// wrap normalizes go-redis errors into the package taxonomy.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNil
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.c.Get(ctx, key).Result()
	return v, wrap("get", err)
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap("set", r.c.Set(ctx, key, value, ttl).Err())
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.c.SetNX(ctx, key, value, ttl).Result()
	return ok, wrap("setnx", err)
}

func (r *Redis) Del(ctx context.Context, key string) (bool, error) {
	n, err := r.c.Del(ctx, key).Result()
	return n > 0, wrap("del", err)
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.c.Incr(ctx, key).Result()
	return n, wrap("incr", err)
}

func (r *Redis) ZAdd(ctx context.Context, key, member string, score float64) error {
	return wrap("zadd", r.c.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (r *Redis) ZRem(ctx context.Context, key, member string) error {
	return wrap("zrem", r.c.ZRem(ctx, key, member).Err())
}

func (r *Redis) ZScore(ctx context.Context, key, member string) (float64, error) {
	s, err := r.c.ZScore(ctx, key, member).Result()
	return s, wrap("zscore", err)
}

func (r *Redis) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vs, err := r.c.ZRevRange(ctx, key, start, stop).Result()
	return vs, wrap("zrevrange", err)
}

func (r *Redis) SAdd(ctx context.Context, key, member string) error {
	return wrap("sadd", r.c.SAdd(ctx, key, member).Err())
}

func (r *Redis) SRem(ctx context.Context, key, member string) error {
	return wrap("srem", r.c.SRem(ctx, key, member).Err())
}

func (r *Redis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.c.SIsMember(ctx, key, member).Result()
	return ok, wrap("sismember", err)
}

func (r *Redis) SInter(ctx context.Context, keys ...string) ([]string, error) {
	vs, err := r.c.SInter(ctx, keys...).Result()
	return vs, wrap("sinter", err)
}

func (r *Redis) SetBit(ctx context.Context, key string, offset int64, value int) error {
	return wrap("setbit", r.c.SetBit(ctx, key, offset, value).Err())
}

// BitFieldGetUnsigned reads an unsigned field of the given width starting at
// the given bit offset, i.e. BITFIELD key GET u<bits> <offset>.
func (r *Redis) BitFieldGetUnsigned(ctx context.Context, key string, bits int, offset int64) (int64, error) {
	res, err := r.c.BitField(ctx, key, "GET", fmt.Sprintf("u%d", bits), offset).Result()
	if err != nil {
		return 0, wrap("bitfield", err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

func (r *Redis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	res, err := r.c.Eval(ctx, script, keys, args...).Result()
	return res, wrap("eval", err)
}

func (r *Redis) XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	id, err := r.c.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
	return id, wrap("xadd", err)
}

// XGroupCreate creates the consumer group at the start of the stream, creating
// the stream itself if needed. An already-existing group is not an error.
func (r *Redis) XGroupCreate(ctx context.Context, stream, group string) error {
	err := r.c.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && isBusyGroup(err) {
		return nil
	}
	return wrap("xgroup create", err)
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// XReadGroup reads up to count entries for the consumer. offset ">" delivers
// new entries; "0" re-delivers this consumer's pending (unacknowledged) ones.
// A block timeout with no entries returns an empty slice, not an error.
func (r *Redis) XReadGroup(ctx context.Context, group, consumer, stream, offset string, count int64, block time.Duration) ([]StreamMessage, error) {
	streams, err := r.c.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, offset},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, wrap("xreadgroup", err)
	}
	var out []StreamMessage
	for _, s := range streams {
		for _, m := range s.Messages {
			values := make(map[string]string, len(m.Values))
			for k, v := range m.Values {
				values[k] = fmt.Sprint(v)
			}
			out = append(out, StreamMessage{ID: m.ID, Values: values})
		}
	}
	return out, nil
}

func (r *Redis) XAck(ctx context.Context, stream, group, id string) error {
	return wrap("xack", r.c.XAck(ctx, stream, group, id).Err())
}
