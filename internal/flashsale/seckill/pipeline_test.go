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
	"errors"
	"strconv"
	"sync"
	"testing"

	"flashsale/internal/flashsale/id"
	"flashsale/internal/flashsale/kv"
)

// newAdmissionStore returns a Memory store whose EvalFn reproduces the
// admission script's effect: stock gate, duplicate gate, decrement, member
// add, and stream append, as one serialized unit.
func newAdmissionStore() *kv.Memory {
	m := kv.NewMemory()
	m.EvalFn = func(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
		voucherID := args[0].(string)
		userID := args[1].(string)
		orderID := args[2].(string)
		stockKey := StockKeyPrefix + voucherID
		orderKey := OrderSetPrefix + voucherID

		raw, err := m.Get(ctx, stockKey)
		if err != nil {
			if errors.Is(err, kv.ErrNil) {
				return int64(1), nil
			}
			return nil, err
		}
		stock, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		if stock <= 0 {
			return int64(1), nil
		}
		if member, _ := m.SIsMember(ctx, orderKey, userID); member {
			return int64(2), nil
		}
		if err := m.Set(ctx, stockKey, strconv.Itoa(stock-1), 0); err != nil {
			return nil, err
		}
		if err := m.SAdd(ctx, orderKey, userID); err != nil {
			return nil, err
		}
		if _, err := m.XAdd(ctx, StreamKey, map[string]interface{}{
			"id": orderID, "userId": userID, "voucherId": voucherID,
		}); err != nil {
			return nil, err
		}
		return int64(0), nil
	}
	return m
}

func newPipeline(store *kv.Memory) *Pipeline {
	return NewPipeline(store, id.New(store))
}

func TestPurchase_AdmitsAndEnqueues(t *testing.T) {
	store := newAdmissionStore()
	p := newPipeline(store)
	if err := p.SeedStock(context.Background(), 100, 5); err != nil {
		t.Fatal(err)
	}
	orderID, err := p.Purchase(context.Background(), 100, 1)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if orderID <= 0 {
		t.Fatalf("order id = %d", orderID)
	}
	if n := store.StreamLen(StreamKey); n != 1 {
		t.Fatalf("stream has %d entries, want 1", n)
	}
}

func TestPurchase_OutOfStock(t *testing.T) {
	store := newAdmissionStore()
	p := newPipeline(store)
	if err := p.SeedStock(context.Background(), 100, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Purchase(context.Background(), 100, 1); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("want ErrOutOfStock, got %v", err)
	}
	// A voucher never seeded behaves the same as one sold out.
	if _, err := p.Purchase(context.Background(), 999, 1); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("unseeded voucher: want ErrOutOfStock, got %v", err)
	}
}

func TestPurchase_DuplicateOrder(t *testing.T) {
	store := newAdmissionStore()
	p := newPipeline(store)
	if err := p.SeedStock(context.Background(), 100, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Purchase(context.Background(), 100, 7); err != nil {
		t.Fatalf("first Purchase: %v", err)
	}
	if _, err := p.Purchase(context.Background(), 100, 7); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("want ErrDuplicateOrder, got %v", err)
	}
}

func TestPurchase_LastUnitSingleWinner(t *testing.T) {
	store := newAdmissionStore()
	p := newPipeline(store)
	if err := p.SeedStock(context.Background(), 100, 1); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, rejected := 0, 0
	for user := int64(1); user <= 2; user++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			_, err := p.Purchase(context.Background(), 100, u)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, ErrOutOfStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(user)
	}
	wg.Wait()
	if admitted != 1 || rejected != 1 {
		t.Fatalf("admitted=%d rejected=%d, want 1/1", admitted, rejected)
	}
}

func TestPurchase_SameUserConcurrentSingleWinner(t *testing.T) {
	store := newAdmissionStore()
	p := newPipeline(store)
	if err := p.SeedStock(context.Background(), 100, 10); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, duplicates := 0, 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Purchase(context.Background(), 100, 7)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, ErrDuplicateOrder):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if admitted != 1 || duplicates != 1 {
		t.Fatalf("admitted=%d duplicates=%d, want 1/1", admitted, duplicates)
	}
}
