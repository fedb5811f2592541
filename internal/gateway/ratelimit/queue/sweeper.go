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

package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically reclaims drained queue-depth entries: a
// background loop that removes (rule, id) entries whose depth has
// dropped to zero and sat idle long enough.
type Sweeper struct {
	mgr      *Manager
	log      *logrus.Logger
	interval time.Duration
	idleFor  time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewSweeper returns a Sweeper that scans every interval, evicting
// zero-depth entries idle for at least idleFor.
func NewSweeper(mgr *Manager, log *logrus.Logger, interval, idleFor time.Duration) *Sweeper {
	return &Sweeper{
		mgr:      mgr,
		log:      log,
		interval: interval,
		idleFor:  idleFor,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop in a background goroutine.
func (s *Sweeper) Start() {
	s.log.Info("starting queue depth sweeper")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
}

// Stop halts the sweep loop and waits for it to exit. Safe to call more
// than once.
func (s *Sweeper) Stop() {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.mgr.Sweep(s.idleFor); n > 0 {
				s.log.WithField("count", n).Debug("swept drained queue entries")
			}
		case <-s.stopChan:
			return
		}
	}
}
