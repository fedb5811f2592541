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

// Package push implements the /ws/analytics broadcaster: a single
// global set of subscribers, each fed a snapshot on connect and then
// periodic summary messages. There is no per-tenant partitioning; every
// subscriber sees the same stream.
package push

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	broadcastBuffer = 64
	registerBuffer  = 16
	clientSendSize  = 16
	drainTimeout    = 3 * time.Second
)

// MessageType distinguishes the initial fill from running updates.
type MessageType string

const (
	TypeSnapshot MessageType = "snapshot"
	TypeSummary  MessageType = "summary"
)

// Message is the wire envelope every subscriber receives.
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client is a single subscriber's one-writer sink.
type Client struct {
	hub       *Hub
	send      chan []byte
	closeOnce sync.Once
}

func newClient(hub *Hub) *Client {
	return &Client{hub: hub, send: make(chan []byte, clientSendSize)}
}

// Send returns the channel the connection's write pump should drain.
func (c *Client) Send() <-chan []byte { return c.send }

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub manages the set of live subscribers and fans summaries out to all
// of them. All client-map mutation happens exclusively in the Run
// goroutine, a single-writer discipline that keeps the map free of
// locks.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	shutdown   chan struct{}
	done       chan struct{}
	count      atomic.Int64
	log        *logrus.Logger
	stopped    uint32
}

// NewHub returns an empty Hub. Call Run in its own goroutine before
// registering clients.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, registerBuffer),
		unregister: make(chan *Client, registerBuffer),
		broadcast:  make(chan []byte, broadcastBuffer),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run is the hub's single event loop; it owns the client map.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.shutdown:
			h.drainClients()
			return

		case c := <-h.register:
			h.clients[c] = true
			h.count.Store(int64(len(h.clients)))
			h.log.WithField("total", len(h.clients)).Debug("analytics subscriber registered")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.closeSend()
			}
			h.count.Store(int64(len(h.clients)))

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					c.closeSend()
					delete(h.clients, c)
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// Subscribe registers a new client, emitting an initial snapshot
// message before the client is wired into broadcast fan-out, so every
// subscriber sees current state immediately on connect.
func (h *Hub) Subscribe(snapshot interface{}) *Client {
	c := newClient(h)
	if payload, err := json.Marshal(Message{Type: TypeSnapshot, Payload: snapshot}); err == nil {
		select {
		case c.send <- payload:
		default:
		}
	}
	select {
	case h.register <- c:
	default:
		h.log.Warn("analytics subscriber register channel full, dropping client")
		c.closeSend()
	}
	return c
}

// Unsubscribe removes a client from the hub.
func (h *Hub) Unsubscribe(c *Client) {
	select {
	case h.unregister <- c:
	default:
	}
}

// Publish marshals summary as a TypeSummary message and broadcasts it
// to every live subscriber; called on the ~2s publish cadence.
func (h *Hub) Publish(summary interface{}) {
	payload, err := json.Marshal(Message{Type: TypeSummary, Payload: summary})
	if err != nil {
		h.log.WithError(err).Error("marshal analytics summary")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn("analytics broadcast channel full, dropping summary")
	}
}

// SubscriberCount reports the current number of live subscribers.
func (h *Hub) SubscriberCount() int { return int(h.count.Load()) }

// Shutdown drains every connected client and stops the Run loop. Safe
// to call more than once.
func (h *Hub) Shutdown() {
	if !atomic.CompareAndSwapUint32(&h.stopped, 0, 1) {
		return
	}
	close(h.shutdown)
	<-h.done
}

func (h *Hub) drainClients() {
	if len(h.clients) == 0 {
		return
	}
	deadline := time.After(drainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true
		for c := range h.clients {
			if len(c.send) > 0 {
				allDrained = false
				break
			}
		}
		if allDrained {
			break
		}
		select {
		case <-deadline:
			h.log.Warn("analytics hub drain timeout, closing remaining subscribers")
			goto closeAll
		case <-ticker.C:
		}
	}

closeAll:
	for c := range h.clients {
		c.closeSend()
		delete(h.clients, c)
	}
	h.count.Store(0)
}
