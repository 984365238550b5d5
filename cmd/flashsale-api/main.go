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

// Package main provides the entry point for the flash-sale service.
//
// This file is responsible for orchestrating the entire service:
// 1. Loading configuration from the environment.
// 2. Connecting the Redis-backed KV store and the Postgres repository.
// 3. Starting the stream consumer that persists admitted orders.
// 4. Starting the API server to handle live traffic.
// 5. Managing graceful shutdown so in-flight work drains cleanly.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"flashsale/internal/flashsale/api"
	"flashsale/internal/flashsale/cache"
	"flashsale/internal/flashsale/config"
	"flashsale/internal/flashsale/id"
	"flashsale/internal/flashsale/kv"
	"flashsale/internal/flashsale/lock"
	"flashsale/internal/flashsale/repo"
	"flashsale/internal/flashsale/seckill"
	"flashsale/internal/flashsale/social"
	"flashsale/internal/flashsale/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// 1. Connect the backing stores.
	store := kv.NewRedis(cfg.RedisAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	repository, pgPool, err := repo.Connect(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("Could not connect to Postgres: %v", err)
	}
	defer pgPool.Close()

	// 2. Assemble the components around the store.
	newMutex := func(name string) cache.Mutex { return lock.New(store, name) }
	rebuildPool := cache.NewPool(cfg.RebuildWorkers, cfg.RebuildQueue)

	loadShop := func(ctx context.Context, rawID string) (repo.Shop, bool, error) {
		shopID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return repo.Shop{}, false, err
		}
		return repository.GetShopByID(ctx, shopID)
	}
	shopCache := cache.New[repo.Shop](store, newMutex, rebuildPool, cache.Options{
		Prefix:     "cache:shop:",
		LockPrefix: "shop:",
		TTL:        cfg.CacheTTL,
		NullTTL:    cfg.CacheNullTTL,
		LockTTL:    cfg.LockTTL,
	})
	hotShopCache := cache.New[repo.Shop](store, newMutex, rebuildPool, cache.Options{
		Prefix:     "cache:shop:hot:",
		LockPrefix: "shop:hot:",
		LogicalTTL: cfg.CacheLogicalTTL,
		LockTTL:    cfg.LockTTL,
	})

	pipeline := seckill.NewPipeline(store, id.New(store))
	soc := social.New(store, repository, nil)

	// 3. Start the consumer that moves admitted orders from the stream into
	// Postgres. Retries and dead-lettering happen inside.
	consumer := seckill.NewConsumer(store, func(ctx context.Context, intent seckill.OrderIntent) error {
		return repository.PersistOrder(ctx, intent.OrderID, intent.UserID, intent.VoucherID)
	}, seckill.ConsumerOptions{
		Group:       cfg.StreamGroup,
		Name:        cfg.ConsumerName,
		Block:       cfg.ConsumerBlock,
		MaxAttempts: cfg.MaxAttempts,
	})
	if err := consumer.Start(); err != nil {
		log.Fatalf("Could not start stream consumer: %v", err)
	}

	// 4. Expose Prometheus metrics when configured.
	if cfg.MetricsAddr != "" {
		telemetry.Serve(cfg.MetricsAddr)
	}

	// 5. Start the HTTP server in a separate goroutine so it doesn't block.
	apiServer := api.NewServer(shopCache, hotShopCache, loadShop, repository, pipeline, soc)
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		fmt.Printf("Flash-sale API server listening on %s\n", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", cfg.HTTPAddr, err)
		}
	}()

	// 6. Wait for an OS signal, then drain.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down server...")

	// Stop admitting new requests first, then let the consumer finish the
	// entries it already read, then drop the rebuild workers.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	consumer.Stop()
	rebuildPool.Stop()

	fmt.Println("Server gracefully stopped.")
}
