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

// Package seckill implements the flash-sale admission pipeline: a synchronous
// hot path that admits or rejects a purchase with a single atomic store-side
// script, and an asynchronous consumer that drains the resulting order
// intents into the relational store.
//
// The script is the system's sole concurrency gate for the hot path; nothing
// here serializes application threads. The consumer is the durability side:
// at-least-once, in arrival order, acknowledged only after the relational
// write commits.
package seckill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"flashsale/internal/flashsale/kv"
	"flashsale/internal/flashsale/telemetry"
)

// Expected rejection outcomes of an admission attempt. These are ordinary
// results for the caller to map onto a response, not system failures.
var (
	ErrOutOfStock     = errors.New("seckill: out of stock")
	ErrDuplicateOrder = errors.New("seckill: duplicate order")
)

// OrderIntent is the unit enqueued to the durable stream by the admission
// script, and the unit the consumer persists.
type OrderIntent struct {
	OrderID   int64
	UserID    int64
	VoucherID int64
}

// Store is the KV surface the pipeline needs.
type Store interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// IDGenerator issues the order ids handed out before persistence.
type IDGenerator interface {
	NextID(ctx context.Context, prefix string) (int64, error)
}

// Pipeline is the synchronous admission half of the flash sale.
type Pipeline struct {
	store Store
	ids   IDGenerator
}

// NewPipeline wires the admission path.
func NewPipeline(store Store, ids IDGenerator) *Pipeline {
	return &Pipeline{store: store, ids: ids}
}

// SeedStock primes the cached stock gate for a voucher going on sale. The
// authoritative stock lives in the relational store; this mirror is what the
// admission script decrements.
func (p *Pipeline) SeedStock(ctx context.Context, voucherID int64, stock int) error {
	key := StockKeyPrefix + strconv.FormatInt(voucherID, 10)
	if err := p.store.Set(ctx, key, strconv.Itoa(stock), 0); err != nil {
		return fmt.Errorf("seckill: seed stock for voucher %d: %w", voucherID, err)
	}
	return nil
}

// Purchase runs one admission attempt for the caller. The order id is
// generated up front so the client can poll status immediately. On success
// the intent is already on the durable stream and the caller returns without
// any relational write; ErrOutOfStock and ErrDuplicateOrder report the two
// expected rejections.
func (p *Pipeline) Purchase(ctx context.Context, voucherID, userID int64) (int64, error) {
	orderID, err := p.ids.NextID(ctx, "order")
	if err != nil {
		return 0, err
	}
	res, err := p.store.Eval(ctx, admissionScript, []string{},
		strconv.FormatInt(voucherID, 10),
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(orderID, 10),
	)
	if err != nil {
		return 0, fmt.Errorf("seckill: admission script: %w", err)
	}
	code, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("seckill: admission script returned %T(%v)", res, res)
	}
	switch code {
	case codeAdmitted:
		telemetry.AdmissionOutcome("admitted")
		return orderID, nil
	case codeOutOfStock:
		telemetry.AdmissionOutcome("out_of_stock")
		return 0, ErrOutOfStock
	case codeDuplicate:
		telemetry.AdmissionOutcome("duplicate")
		return 0, ErrDuplicateOrder
	default:
		return 0, fmt.Errorf("seckill: admission script returned unknown code %d", code)
	}
}

// parseIntent decodes a stream entry written by the admission script.
func parseIntent(msg kv.StreamMessage) (OrderIntent, error) {
	var intent OrderIntent
	var err error
	if intent.OrderID, err = strconv.ParseInt(msg.Values["id"], 10, 64); err != nil {
		return intent, fmt.Errorf("seckill: entry %s: bad order id %q", msg.ID, msg.Values["id"])
	}
	if intent.UserID, err = strconv.ParseInt(msg.Values["userId"], 10, 64); err != nil {
		return intent, fmt.Errorf("seckill: entry %s: bad user id %q", msg.ID, msg.Values["userId"])
	}
	if intent.VoucherID, err = strconv.ParseInt(msg.Values["voucherId"], 10, 64); err != nil {
		return intent, fmt.Errorf("seckill: entry %s: bad voucher id %q", msg.ID, msg.Values["voucherId"])
	}
	return intent, nil
}
