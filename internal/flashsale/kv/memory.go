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

package kv

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and dependency-free demo runs.
// It honors the same contracts the code relies on from Redis: TTL-bound
// strings, SETNX, atomic INCR, sorted sets, plain sets, bitmaps, and streams
// with consumer groups. It cannot run Lua; tests install an EvalFn that
// reproduces the script's effect against the same Memory instance.
type Memory struct {
	mu      sync.Mutex
	strings map[string]memString
	zsets   map[string]map[string]float64
	sets    map[string]map[string]struct{}
	bits    map[string][]byte
	streams map[string]*memStream

	// EvalFn, when set, services Eval calls. Concurrent Eval calls are
	// serialized against each other (matching the store's script atomicity
	// guarantee), and the function is free to use the public Memory methods.
	EvalFn func(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	evalMu sync.Mutex

	// Now is the clock used for TTL checks. Defaults to time.Now.
	Now func() time.Time
}

type memString struct {
	value    string
	expireAt time.Time // zero = no expiry
}

type memStream struct {
	seq     int64
	entries []StreamMessage
	groups  map[string]*memGroup
}

type memGroup struct {
	cursor  int            // index of the next never-delivered entry
	pending map[string]int // entry id -> index, delivered but unacked
	order   []string       // pending ids in delivery order
}

var (
	_ Store = (*Redis)(nil)
	_ Store = (*Memory)(nil)
)

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]memString),
		zsets:   make(map[string]map[string]float64),
		sets:    make(map[string]map[string]struct{}),
		bits:    make(map[string][]byte),
		streams: make(map[string]*memStream),
		Now:     time.Now,
	}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// getLocked returns the live value for key, expiring it lazily.
func (m *Memory) getLocked(key string) (string, bool) {
	s, ok := m.strings[key]
	if !ok {
		return "", false
	}
	if !s.expireAt.IsZero() && !m.now().Before(s.expireAt) {
		delete(m.strings, key)
		return "", false
	}
	return s.value, true
}

func (m *Memory) setLocked(key, value string, ttl time.Duration) {
	s := memString{value: value}
	if ttl > 0 {
		s.expireAt = m.now().Add(ttl)
	}
	m.strings[key] = s
}

func (m *Memory) delLocked(key string) bool {
	_, hadString := m.strings[key]
	_, hadZ := m.zsets[key]
	_, hadS := m.sets[key]
	_, hadB := m.bits[key]
	delete(m.strings, key)
	delete(m.zsets, key)
	delete(m.sets, key)
	delete(m.bits, key)
	return hadString || hadZ || hadS || hadB
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.getLocked(key)
	if !ok {
		return "", ErrNil
	}
	return v, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.getLocked(key); ok {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *Memory) Del(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delLocked(key), nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if v, ok := m.getLocked(key); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kv: incr on non-integer value at %q", key)
		}
		n = parsed
	}
	n++
	// Preserve any TTL already on the key, as INCR does.
	s := m.strings[key]
	s.value = strconv.FormatInt(n, 10)
	m.strings[key] = s
	return n, nil
}

func (m *Memory) ZAdd(ctx context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (m *Memory) ZRem(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if z, ok := m.zsets[key]; ok {
		delete(z, member)
	}
	return nil
}

func (m *Memory) ZScore(ctx context.Context, key, member string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		return 0, ErrNil
	}
	score, ok := z[member]
	if !ok {
		return 0, ErrNil
	}
	return score, nil
}

func (m *Memory) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(z))
	for member := range z {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := z[members[i]], z[members[j]]
		if si != sj {
			return si > sj
		}
		return members[i] < members[j]
	})
	if start < 0 || start >= int64(len(members)) {
		return nil, nil
	}
	if stop < 0 || stop >= int64(len(members)) {
		stop = int64(len(members)) - 1
	}
	return members[start : stop+1], nil
}

func (m *Memory) SAdd(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saddLocked(key, member)
	return nil
}

func (m *Memory) saddLocked(key, member string) {
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	s[member] = struct{}{}
}

func (m *Memory) SRem(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sets[key]; ok {
		delete(s, member)
	}
	return nil
}

func (m *Memory) SIsMember(ctx context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sIsMemberLocked(key, member), nil
}

func (m *Memory) sIsMemberLocked(key, member string) bool {
	s, ok := m.sets[key]
	if !ok {
		return false
	}
	_, ok = s[member]
	return ok
}

func (m *Memory) SInter(ctx context.Context, keys ...string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(keys) == 0 {
		return nil, nil
	}
	var out []string
	first := m.sets[keys[0]]
	for member := range first {
		inAll := true
		for _, key := range keys[1:] {
			if _, ok := m.sets[key][member]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, member)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SetBit(ctx context.Context, key string, offset int64, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byteIdx := offset / 8
	b := m.bits[key]
	for int64(len(b)) <= byteIdx {
		b = append(b, 0)
	}
	mask := byte(1) << (7 - uint(offset%8))
	if value != 0 {
		b[byteIdx] |= mask
	} else {
		b[byteIdx] &^= mask
	}
	m.bits[key] = b
	return nil
}

func (m *Memory) BitFieldGetUnsigned(ctx context.Context, key string, bits int, offset int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bits <= 0 || bits > 63 {
		return 0, fmt.Errorf("kv: unsupported bitfield width u%d", bits)
	}
	b := m.bits[key]
	var out int64
	for i := int64(0); i < int64(bits); i++ {
		out <<= 1
		pos := offset + i
		byteIdx := pos / 8
		if byteIdx < int64(len(b)) && b[byteIdx]&(1<<(7-uint(pos%8))) != 0 {
			out |= 1
		}
	}
	return out, nil
}

func (m *Memory) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if m.EvalFn == nil {
		return nil, fmt.Errorf("kv: memory store has no EvalFn installed")
	}
	m.evalMu.Lock()
	defer m.evalMu.Unlock()
	return m.EvalFn(ctx, script, keys, args...)
}

func (m *Memory) streamLocked(name string) *memStream {
	st, ok := m.streams[name]
	if !ok {
		st = &memStream{groups: make(map[string]*memGroup)}
		m.streams[name] = st
	}
	return st
}

func (m *Memory) XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.streamLocked(stream)
	st.seq++
	id := fmt.Sprintf("%d-%d", m.now().UnixMilli(), st.seq)
	converted := make(map[string]string, len(values))
	for k, v := range values {
		converted[k] = fmt.Sprint(v)
	}
	st.entries = append(st.entries, StreamMessage{ID: id, Values: converted})
	return id, nil
}

func (m *Memory) XGroupCreate(ctx context.Context, stream, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.streamLocked(stream)
	if _, ok := st.groups[group]; !ok {
		st.groups[group] = &memGroup{pending: make(map[string]int)}
	}
	return nil
}

func (m *Memory) XReadGroup(ctx context.Context, group, consumer, stream, offset string, count int64, block time.Duration) ([]StreamMessage, error) {
	deadline := m.now().Add(block)
	for {
		m.mu.Lock()
		st := m.streamLocked(stream)
		g, ok := st.groups[group]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("kv: no such consumer group %q", group)
		}
		var out []StreamMessage
		if offset == "0" {
			for _, id := range g.order {
				out = append(out, st.entries[g.pending[id]])
				if count > 0 && int64(len(out)) >= count {
					break
				}
			}
		} else {
			for g.cursor < len(st.entries) {
				e := st.entries[g.cursor]
				g.pending[e.ID] = g.cursor
				g.order = append(g.order, e.ID)
				g.cursor++
				out = append(out, e)
				if count > 0 && int64(len(out)) >= count {
					break
				}
			}
		}
		m.mu.Unlock()
		if len(out) > 0 || block <= 0 || !m.now().Before(deadline) {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (m *Memory) XAck(ctx context.Context, stream, group, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.streamLocked(stream)
	g, ok := st.groups[group]
	if !ok {
		return nil
	}
	delete(g.pending, id)
	for i, pid := range g.order {
		if pid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return nil
}

// PendingCount reports unacknowledged deliveries for a group. Test helper.
func (m *Memory) PendingCount(stream, group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.streamLocked(stream)
	g, ok := st.groups[group]
	if !ok {
		return 0
	}
	return len(g.pending)
}

// StreamLen reports the number of entries appended to a stream. Test helper.
func (m *Memory) StreamLen(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streamLocked(stream).entries)
}
