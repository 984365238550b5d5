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

// Package repo is the relational collaborator: the authoritative store for
// shops, vouchers, orders, and follows, on PostgreSQL via pgx. The cache and
// admission layers treat it through narrow interfaces; nothing in here knows
// about Redis.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Shop is the hot read-path entity served through the cache.
type Shop struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Sold    int    `json:"sold"`
}

// Voucher is a flash-sale voucher with its authoritative stock.
type Voucher struct {
	ID      int64     `json:"id"`
	Title   string    `json:"title"`
	Stock   int       `json:"stock"`
	BeginAt time.Time `json:"beginAt"`
	EndAt   time.Time `json:"endAt"`
}

// Order is a persisted voucher order; immutable once written.
type Order struct {
	ID        int64
	UserID    int64
	VoucherID int64
	CreatedAt time.Time
}

// DB is the pgx surface the repository uses. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository implements the relational operations on PostgreSQL.
type Repository struct {
	db DB
}

// New wraps a database handle.
func New(db DB) *Repository {
	return &Repository{db: db}
}

// Connect opens a pgx pool for the given DSN and wraps it.
func Connect(ctx context.Context, dsn string) (*Repository, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("repo: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("repo: ping: %w", err)
	}
	return New(pool), pool, nil
}

// GetShopByID returns a shop, reporting absence as found=false.
func (r *Repository) GetShopByID(ctx context.Context, id int64) (Shop, bool, error) {
	var s Shop
	err := r.db.QueryRow(ctx,
		`SELECT id, name, address, sold FROM shops WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Address, &s.Sold)
	if errors.Is(err, pgx.ErrNoRows) {
		return Shop{}, false, nil
	}
	if err != nil {
		return Shop{}, false, fmt.Errorf("repo: get shop %d: %w", id, err)
	}
	return s, true, nil
}

// UpdateShop rewrites a shop row, returning false if the id does not exist.
func (r *Repository) UpdateShop(ctx context.Context, s Shop) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE shops SET name = $2, address = $3, sold = $4 WHERE id = $1`,
		s.ID, s.Name, s.Address, s.Sold,
	)
	if err != nil {
		return false, fmt.Errorf("repo: update shop %d: %w", s.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetVoucher returns a voucher, reporting absence as found=false.
func (r *Repository) GetVoucher(ctx context.Context, id int64) (Voucher, bool, error) {
	var v Voucher
	err := r.db.QueryRow(ctx,
		`SELECT id, title, stock, begin_at, end_at FROM vouchers WHERE id = $1`, id,
	).Scan(&v.ID, &v.Title, &v.Stock, &v.BeginAt, &v.EndAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, false, nil
	}
	if err != nil {
		return Voucher{}, false, fmt.Errorf("repo: get voucher %d: %w", id, err)
	}
	return v, true, nil
}

// InsertVoucher creates a voucher row.
func (r *Repository) InsertVoucher(ctx context.Context, v Voucher) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO vouchers (id, title, stock, begin_at, end_at) VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.Title, v.Stock, v.BeginAt, v.EndAt,
	)
	if err != nil {
		return fmt.Errorf("repo: insert voucher %d: %w", v.ID, err)
	}
	return nil
}

// HasOrder reports whether the user already holds an order for the voucher.
func (r *Repository) HasOrder(ctx context.Context, userID, voucherID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE user_id = $1 AND voucher_id = $2)`,
		userID, voucherID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repo: order exists %d/%d: %w", userID, voucherID, err)
	}
	return exists, nil
}

// PersistOrder is the consumer-side durability step: re-check the
// one-order-per-user record, decrement authoritative stock with the
// optimistic `stock > 0` guard, and insert the order, all inside a single
// transaction so a crash mid-handling cannot decrement without an order.
//
// Guard failures drop the intent silently (they were already reflected as
// rejections upstream); only infrastructure failures come back as errors, so
// the caller leaves the stream entry pending for retry.
func (r *Repository) PersistOrder(ctx context.Context, orderID, userID, voucherID int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repo: begin order %d: %w", orderID, err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE user_id = $1 AND voucher_id = $2)`,
		userID, voucherID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("repo: order %d re-check: %w", orderID, err)
	}
	if exists {
		log.Printf("repo: order %d dropped, user %d already holds voucher %d", orderID, userID, voucherID)
		return nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE vouchers SET stock = stock - 1 WHERE id = $1 AND stock > 0`, voucherID,
	)
	if err != nil {
		return fmt.Errorf("repo: order %d decrement: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		log.Printf("repo: order %d dropped, voucher %d stock guard failed", orderID, voucherID)
		return nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, voucher_id, created_at) VALUES ($1, $2, $3, NOW())`,
		orderID, userID, voucherID,
	)
	if err != nil {
		return fmt.Errorf("repo: order %d insert: %w", orderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repo: order %d commit: %w", orderID, err)
	}
	return nil
}

// InsertFollow records a follow edge; DeleteFollow removes it. Both back the
// set-based social features, which mirror these edges into the KV store.
func (r *Repository) InsertFollow(ctx context.Context, userID, followUserID int64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO follows (user_id, follow_user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, followUserID,
	)
	if err != nil {
		return fmt.Errorf("repo: follow %d->%d: %w", userID, followUserID, err)
	}
	return nil
}

func (r *Repository) DeleteFollow(ctx context.Context, userID, followUserID int64) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM follows WHERE user_id = $1 AND follow_user_id = $2`,
		userID, followUserID,
	)
	if err != nil {
		return fmt.Errorf("repo: unfollow %d->%d: %w", userID, followUserID, err)
	}
	return nil
}
