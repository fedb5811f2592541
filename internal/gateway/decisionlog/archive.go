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

package decisionlog

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/state"
)

// ArchiveStore is the subset of state.Store the archiver reads the
// overflow tail from and trims behind it.
type ArchiveStore interface {
	RecentDecisions(ctx context.Context, limit int) ([]string, error)
	TrimDecisionsTo(ctx context.Context, keep int) (int64, error)
}

// Archiver runs on a fixed tick and fans any decision log entries
// beyond the bounded list's keep count out to a durable state.Sink
// before trimming them. With no sink configured, it only trims: the
// bounded list is then the only copy.
type Archiver struct {
	store    ArchiveStore
	sink     state.Sink // nil disables archival; trimming still runs
	log      *logrus.Logger
	keep     int
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewArchiver returns an Archiver that keeps at most keep entries in
// the bounded list, archiving (if sink is non-nil) or dropping the rest
// on each tick.
func NewArchiver(store ArchiveStore, sink state.Sink, log *logrus.Logger, keep int, interval time.Duration) *Archiver {
	return &Archiver{
		store:    store,
		sink:     sink,
		log:      log,
		keep:     keep,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start launches the archival loop in its own goroutine.
func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.loop()
}

// Stop halts the loop after its current tick finishes. Safe to call
// more than once.
func (a *Archiver) Stop() {
	if !atomic.CompareAndSwapUint32(&a.stopped, 0, 1) {
		return
	}
	close(a.stopChan)
	a.wg.Wait()
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.WithError(err).Warn("close decision log archival sink")
		}
	}
}

func (a *Archiver) loop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.archiveOnce(context.Background())
		case <-a.stopChan:
			return
		}
	}
}

// archiveOnce reads the bounded list's overflow tail (entries beyond
// keep; RecentDecisions returns newest-first, so the tail is the
// oldest), writes it to the sink when configured, and trims the list
// down to keep regardless of whether a sink is attached.
func (a *Archiver) archiveOnce(ctx context.Context) {
	entries, err := a.store.RecentDecisions(ctx, a.keep+archiveBatchSize)
	if err != nil {
		a.log.WithError(err).Error("list decision log entries for archival")
		return
	}
	if len(entries) > a.keep && a.sink != nil {
		overflow := entries[a.keep:]
		envelopes := make([]state.Envelope, 0, len(overflow))
		for _, raw := range overflow {
			envelopes = append(envelopes, state.Envelope{ID: extractID(raw), Payload: []byte(raw)})
		}
		if err := a.sink.Write(ctx, envelopes); err != nil {
			a.log.WithError(err).Error("archive decision log overflow")
			return
		}
	}
	if _, err := a.store.TrimDecisionsTo(ctx, a.keep); err != nil {
		a.log.WithError(err).Error("trim decision log")
	}
}

const archiveBatchSize = 1000

func extractID(raw string) string {
	var partial struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(raw), &partial); err != nil {
		return ""
	}
	return partial.ID
}
