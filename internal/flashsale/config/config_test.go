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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "g1", cfg.StreamGroup)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 8, cfg.RebuildWorkers)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FLASHSALE_HTTP_ADDR", ":9999")
	t.Setenv("FLASHSALE_CONSUMER_BLOCK", "500ms")
	t.Setenv("FLASHSALE_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.ConsumerBlock)
	assert.Equal(t, 3, cfg.MaxAttempts)
}

func TestLoad_RejectsNonPositiveKnobs(t *testing.T) {
	t.Setenv("FLASHSALE_REBUILD_WORKERS", "0")

	_, err := Load()
	require.Error(t, err)
}
