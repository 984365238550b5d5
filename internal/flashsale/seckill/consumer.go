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

package seckill

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"flashsale/internal/flashsale/kv"
	"flashsale/internal/flashsale/telemetry"
)

// StreamStore is the stream surface the consumer needs.
type StreamStore interface {
	XGroupCreate(ctx context.Context, stream, group string) error
	XReadGroup(ctx context.Context, group, consumer, stream, offset string, count int64, block time.Duration) ([]kv.StreamMessage, error)
	XAck(ctx context.Context, stream, group, id string) error
	XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// HandleFunc persists one admitted order intent. A nil return acknowledges
// the entry; implementations must treat replays as no-ops (the stream is
// at-least-once). Returning an error leaves the entry pending for retry.
type HandleFunc func(ctx context.Context, intent OrderIntent) error

// ConsumerOptions tune one consumer instance.
type ConsumerOptions struct {
	Stream string // defaults to StreamKey
	Group  string // consumer group name, e.g. "seckill-order-group"
	Name   string // consumer name within the group, unique per instance
	// Block is the poll timeout; the loop blocks this long per empty read
	// instead of busy-spinning. Defaults to 1s.
	Block time.Duration
	// Backoff is the pause after a handling or read error. Defaults to 1s.
	Backoff time.Duration
	// MaxAttempts bounds deliveries per entry before it is moved to the
	// dead-letter stream and acknowledged. Defaults to 5.
	MaxAttempts int
}

// Consumer is the single long-lived drain task for one service instance. It
// reads the order-intent stream through a consumer group, persists each
// entry, and acknowledges only after the write commits, so a crash mid-entry
// redelivers it.
type Consumer struct {
	store  StreamStore
	handle HandleFunc
	opts   ConsumerOptions

	// attempts counts deliveries per pending entry id, for the dead-letter
	// ceiling. Only the consumer goroutine touches it.
	attempts map[string]int
	// readPending flips the read offset to "0" after a failure so the same
	// unacknowledged entry is retried before any new ones.
	readPending bool

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewConsumer configures a consumer; Start launches it.
func NewConsumer(store StreamStore, handle HandleFunc, opts ConsumerOptions) *Consumer {
	if opts.Stream == "" {
		opts.Stream = StreamKey
	}
	if opts.Block <= 0 {
		opts.Block = time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		store:    store,
		handle:   handle,
		opts:     opts,
		attempts: make(map[string]int),
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
}

// Start ensures the consumer group exists and launches the drain loop.
func (c *Consumer) Start() error {
	if err := c.store.XGroupCreate(c.ctx, c.opts.Stream, c.opts.Group); err != nil {
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drainLoop()
	}()
	return nil
}

// Stop halts polling and waits for the in-flight entry to finish, including
// its acknowledgement. The context is cancelled only after the loop exits,
// so a handler in progress commits and acks rather than being aborted.
// Entries delivered but never acknowledged stay pending and are redelivered
// after restart.
func (c *Consumer) Stop() {
	if !atomic.CompareAndSwapUint32(&c.stopped, 0, 1) {
		return
	}
	close(c.stopChan)
	c.wg.Wait()
	c.cancel()
}

func (c *Consumer) drainLoop() {
	log.Printf("seckill: consumer %s/%s draining %s", c.opts.Group, c.opts.Name, c.opts.Stream)
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		offset := ">"
		if c.readPending {
			offset = "0"
		}
		msgs, err := c.store.XReadGroup(c.ctx, c.opts.Group, c.opts.Name, c.opts.Stream, offset, 10, c.opts.Block)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			telemetry.ConsumerError()
			log.Printf("seckill: read %s: %v", c.opts.Stream, err)
			if !c.pause() {
				return
			}
			continue
		}
		if len(msgs) == 0 {
			// Pending drained (or nothing new); go back to fresh entries.
			c.readPending = false
			continue
		}

		for _, msg := range msgs {
			if !c.handleOne(msg) {
				// Failed below the attempt ceiling: re-read this entry from
				// the pending list before touching anything newer.
				c.readPending = true
				if !c.pause() {
					return
				}
				break
			}
		}
	}
}

// handleOne processes a single entry. It returns false only when the entry
// failed and remains pending for retry; malformed and exhausted entries are
// dead-lettered and acknowledged so they cannot wedge the stream.
func (c *Consumer) handleOne(msg kv.StreamMessage) bool {
	intent, perr := parseIntent(msg)
	if perr != nil {
		telemetry.ConsumerError()
		log.Printf("seckill: %v, dead-lettering", perr)
		c.deadLetter(msg, "malformed")
		c.ack(msg.ID)
		return true
	}

	if err := c.handle(c.ctx, intent); err != nil {
		telemetry.ConsumerError()
		c.attempts[msg.ID]++
		if c.attempts[msg.ID] >= c.opts.MaxAttempts {
			log.Printf("seckill: order %d failed %d times (%v), dead-lettering", intent.OrderID, c.attempts[msg.ID], err)
			c.deadLetter(msg, "exhausted")
			c.ack(msg.ID)
			delete(c.attempts, msg.ID)
			return true
		}
		log.Printf("seckill: order %d attempt %d: %v", intent.OrderID, c.attempts[msg.ID], err)
		return false
	}

	telemetry.OrderPersisted()
	c.ack(msg.ID)
	delete(c.attempts, msg.ID)
	return true
}

// deadLetter copies the entry onto the quarantine stream with its original
// id and failure reason attached.
func (c *Consumer) deadLetter(msg kv.StreamMessage, reason string) {
	values := make(map[string]interface{}, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["sourceId"] = msg.ID
	values["reason"] = reason
	if _, err := c.store.XAdd(c.ctx, DeadLetterKey, values); err != nil {
		// The caller acknowledges the main-stream entry regardless; losing
		// the dead-letter copy is logged, not retried.
		log.Printf("seckill: dead-letter %s: %v", msg.ID, err)
		return
	}
	telemetry.DeadLetter()
}

func (c *Consumer) ack(id string) {
	if err := c.store.XAck(c.ctx, c.opts.Stream, c.opts.Group, id); err != nil {
		log.Printf("seckill: ack %s: %v", id, err)
	}
}

// pause sleeps for the backoff, returning false if stopped meanwhile.
func (c *Consumer) pause() bool {
	select {
	case <-c.stopChan:
		return false
	case <-time.After(c.opts.Backoff):
		return true
	}
}
