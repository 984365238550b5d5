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
	"sync/atomic"
)

// Pool is the bounded worker pool cache rebuilds run on. Submissions never
// block: when the queue is full the task is dropped and the caller is told,
// so a rebuild storm cannot exhaust goroutines or pile up stale work.
type Pool struct {
	tasks    chan func()
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewPool starts `workers` goroutines sharing a queue of `queue` slots.
func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{
		tasks:    make(chan func(), queue),
		stopChan: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for {
				select {
				case task := <-p.tasks:
					task()
				case <-p.stopChan:
					return
				}
			}
		}()
	}
	return p
}

// Submit enqueues a task, returning false if the pool is stopped or full.
func (p *Pool) Submit(task func()) bool {
	if atomic.LoadUint32(&p.stopped) == 1 {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Stop shuts the workers down. Queued but unstarted tasks are discarded;
// tasks already running finish first. Safe to call more than once.
func (p *Pool) Stop() {
	if !atomic.CompareAndSwapUint32(&p.stopped, 0, 1) {
		return
	}
	close(p.stopChan)
	p.wg.Wait()
}
