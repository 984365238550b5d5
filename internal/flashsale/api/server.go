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

// Package api implements the public-facing HTTP server. It resolves the
// caller, dispatches into the cache, admission and social components, and
// renders JSON responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"flashsale/internal/flashsale/cache"
	"flashsale/internal/flashsale/repo"
	"flashsale/internal/flashsale/seckill"
	"flashsale/internal/flashsale/session"
	"flashsale/internal/flashsale/social"
)

// Repo is the relational surface the write endpoints need. *repo.Repository
// satisfies it.
type Repo interface {
	UpdateShop(ctx context.Context, s repo.Shop) (bool, error)
	InsertVoucher(ctx context.Context, v repo.Voucher) error
}

// Server handles the HTTP requests for the flash-sale service.
type Server struct {
	shops    *cache.Client[repo.Shop]
	hotShops *cache.Client[repo.Shop]
	loadShop cache.Loader[repo.Shop]
	repo     Repo
	pipeline *seckill.Pipeline
	social   *social.Service
}

// NewServer wires the handlers. loadShop is the database fallback the cache
// clients call on a miss. hotShops may be nil when no keys are pre-warmed
// with logical expiry; the hot endpoint then returns 404.
func NewServer(shops, hotShops *cache.Client[repo.Shop], loadShop cache.Loader[repo.Shop], rp Repo, pipeline *seckill.Pipeline, soc *social.Service) *Server {
	return &Server{
		shops:    shops,
		hotShops: hotShops,
		loadShop: loadShop,
		repo:     rp,
		pipeline: pipeline,
		social:   soc,
	}
}

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /shop/{id}", s.handleGetShop)
	mux.HandleFunc("GET /shop/hot/{id}", s.handleGetHotShop)
	mux.HandleFunc("PUT /shop/{id}", s.handleUpdateShop)
	mux.HandleFunc("POST /voucher", s.handleCreateVoucher)
	mux.HandleFunc("POST /seckill/{voucherID}", s.withCaller(s.handleSeckill))
	mux.HandleFunc("PUT /blog/{id}/like", s.withCaller(s.handleToggleLike))
	mux.HandleFunc("GET /blog/{id}/likes", s.handleTopLikers)
	mux.HandleFunc("PUT /follow/{id}", s.withCaller(s.handleFollow))
	mux.HandleFunc("DELETE /follow/{id}", s.withCaller(s.handleUnfollow))
	mux.HandleFunc("GET /follow/common/{id}", s.withCaller(s.handleCommonFollows))
	mux.HandleFunc("POST /sign", s.withCaller(s.handleCheckIn))
	mux.HandleFunc("GET /sign/streak", s.withCaller(s.handleStreak))
}

// withCaller resolves the authenticated user from the X-User-ID header and
// stores it in the request context. A real deployment would resolve a token
// against a session store instead.
func (s *Server) withCaller(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(session.WithCallerID(r.Context(), userID)))
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing left to do but drop it.
		return
	}
}

func (s *Server) handleGetShop(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	shop, err := s.shops.QueryWithPassthrough(r.Context(), strconv.FormatInt(id, 10), s.loadShop)
	if errors.Is(err, cache.ErrNotFound) {
		http.Error(w, "shop not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "shop lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

// handleGetHotShop serves shops cached with logical expiry. Keys that were
// never pre-warmed are a 404, not a fallthrough to the database.
func (s *Server) handleGetHotShop(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.hotShops == nil {
		http.Error(w, "shop not found", http.StatusNotFound)
		return
	}
	shop, err := s.hotShops.QueryWithLogicalExpiry(r.Context(), strconv.FormatInt(id, 10), s.loadShop)
	if errors.Is(err, cache.ErrNotFound) {
		http.Error(w, "shop not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "shop lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

// handleUpdateShop is the write-path half of cache consistency: commit the
// row first, then evict the cache entry, so the next read reloads the
// committed state.
func (s *Server) handleUpdateShop(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var shop repo.Shop
	if err := json.NewDecoder(r.Body).Decode(&shop); err != nil {
		http.Error(w, "invalid shop body", http.StatusBadRequest)
		return
	}
	shop.ID = id
	ok, err := s.repo.UpdateShop(r.Context(), shop)
	if err != nil {
		http.Error(w, "shop update failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "shop not found", http.StatusNotFound)
		return
	}
	if err := s.shops.Delete(r.Context(), strconv.FormatInt(id, 10)); err != nil {
		http.Error(w, "cache eviction failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateVoucher puts a voucher on sale: the authoritative row goes to
// the relational store, then the admission gate is primed with the same
// stock count.
func (s *Server) handleCreateVoucher(w http.ResponseWriter, r *http.Request) {
	var voucher repo.Voucher
	if err := json.NewDecoder(r.Body).Decode(&voucher); err != nil {
		http.Error(w, "invalid voucher body", http.StatusBadRequest)
		return
	}
	if voucher.ID <= 0 || voucher.Stock < 0 {
		http.Error(w, "invalid voucher", http.StatusBadRequest)
		return
	}
	if err := s.repo.InsertVoucher(r.Context(), voucher); err != nil {
		http.Error(w, "voucher insert failed", http.StatusInternalServerError)
		return
	}
	if err := s.pipeline.SeedStock(r.Context(), voucher.ID, voucher.Stock); err != nil {
		http.Error(w, "stock seed failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, voucher)
}

func (s *Server) handleSeckill(w http.ResponseWriter, r *http.Request) {
	voucherID, err := pathID(r, "voucherID")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID, err := session.CallerID(r.Context())
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	orderID, err := s.pipeline.Purchase(r.Context(), voucherID, userID)
	switch {
	case errors.Is(err, seckill.ErrOutOfStock):
		http.Error(w, "out of stock", http.StatusConflict)
	case errors.Is(err, seckill.ErrDuplicateOrder):
		http.Error(w, "already ordered", http.StatusConflict)
	case err != nil:
		http.Error(w, "purchase failed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]int64{"orderId": orderID})
	}
}

func (s *Server) handleToggleLike(w http.ResponseWriter, r *http.Request) {
	blogID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID, _ := session.CallerID(r.Context())
	liked, err := s.social.ToggleLike(r.Context(), blogID, userID)
	if err != nil {
		http.Error(w, "like failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liked": liked})
}

func (s *Server) handleTopLikers(w http.ResponseWriter, r *http.Request) {
	blogID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n := int64(5)
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid n", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	users, err := s.social.TopLikers(r.Context(), blogID, n)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"userIds": users})
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	s.setFollow(w, r, true)
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	s.setFollow(w, r, false)
}

func (s *Server) setFollow(w http.ResponseWriter, r *http.Request, follow bool) {
	targetID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID, _ := session.CallerID(r.Context())
	if userID == targetID {
		http.Error(w, "cannot follow yourself", http.StatusBadRequest)
		return
	}
	if err := s.social.Follow(r.Context(), userID, targetID, follow); err != nil {
		http.Error(w, "follow update failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommonFollows(w http.ResponseWriter, r *http.Request) {
	otherID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID, _ := session.CallerID(r.Context())
	users, err := s.social.CommonFollows(r.Context(), userID, otherID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"userIds": users})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	userID, _ := session.CallerID(r.Context())
	if err := s.social.CheckIn(r.Context(), userID); err != nil {
		http.Error(w, "check-in failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request) {
	userID, _ := session.CallerID(r.Context())
	streak, err := s.social.CheckInStreak(r.Context(), userID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"streak": streak})
}
