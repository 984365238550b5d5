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

package cache

import (
	"sync"
	"testing"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := NewPool(2, 8)
	defer p.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		if !p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
		}) {
			wg.Done()
		}
	}
	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	if ran == 0 {
		t.Fatal("no submitted task ran")
	}
}

func TestPool_SubmitAfterStopFails(t *testing.T) {
	p := NewPool(1, 1)
	p.Stop()
	if p.Submit(func() {}) {
		t.Fatal("Submit succeeded after Stop")
	}
}

func TestPool_DropsWhenSaturated(t *testing.T) {
	p := NewPool(1, 0)
	defer p.Stop()
	release := make(chan struct{})
	defer close(release)

	// Keep submitting the blocking task until the worker takes it.
	for !p.Submit(func() { <-release }) {
	}
	// With the single worker parked and no queue, submissions are dropped.
	dropped := false
	for i := 0; i < 100; i++ {
		if !p.Submit(func() {}) {
			dropped = true
			break
		}
	}
	if !dropped {
		t.Fatal("saturated pool accepted every submission")
	}
}
