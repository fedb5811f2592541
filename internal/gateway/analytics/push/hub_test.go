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

package push

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSubscribeEmitsSnapshotFirst(t *testing.T) {
	h := NewHub(newTestLogger())
	go h.Run()
	defer h.Shutdown()

	c := h.Subscribe(map[string]int{"allowed": 5})
	select {
	case raw := <-c.Send():
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != TypeSnapshot {
			t.Fatalf("got type %q, want snapshot", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
}

func TestPublishBroadcastsSummaryToAllSubscribers(t *testing.T) {
	h := NewHub(newTestLogger())
	go h.Run()
	defer h.Shutdown()

	c1 := h.Subscribe(nil)
	c2 := h.Subscribe(nil)
	<-c1.Send() // drain snapshot
	<-c2.Send()

	// give the Run loop a moment to register both clients
	waitForSubscribers(t, h, 2)

	h.Publish(map[string]int{"allowed": 7})

	for _, c := range []*Client{c1, c2} {
		select {
		case raw := <-c.Send():
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg.Type != TypeSummary {
				t.Fatalf("got type %q, want summary", msg.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for summary broadcast")
		}
	}
}

func TestUnsubscribeRemovesClient(t *testing.T) {
	h := NewHub(newTestLogger())
	go h.Run()
	defer h.Shutdown()

	c := h.Subscribe(nil)
	<-c.Send()
	waitForSubscribers(t, h, 1)

	h.Unsubscribe(c)
	waitForSubscribers(t, h, 0)
}

func waitForSubscribers(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.SubscriberCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber count never reached %d, got %d", want, h.SubscriberCount())
}
