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
	"context"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout   = 10 * time.Second
	readLimit      = 4096
	pingInterval   = 30 * time.Second
	pingTimeout    = 10 * time.Second
	maxMissedPongs = int32(2)
)

// Serve drives one subscriber's connection end to end: registers it,
// writes the snapshot/summary stream out, and reads (and discards) any
// client frames until the connection closes. ReadPump exists only to
// notice client disconnects and drain the read side of the socket;
// subscribers are not expected to send anything.
func Serve(ctx context.Context, hub *Hub, conn *websocket.Conn, snapshot interface{}, log *logrus.Logger) {
	c := hub.Subscribe(snapshot)
	defer hub.Unsubscribe(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		readPump(ctx, conn, log)
	}()

	writePump(ctx, conn, c, log)
	<-done
}

func readPump(ctx context.Context, conn *websocket.Conn, log *logrus.Logger) {
	conn.SetReadLimit(readLimit)
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				log.WithField("status", websocket.CloseStatus(err)).Debug("analytics subscriber disconnected")
			}
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, c *Client, log *logrus.Logger) {
	defer conn.CloseNow() //nolint:errcheck

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var missedPongs atomic.Int32

	for {
		select {
		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if missedPongs.Add(1) >= maxMissedPongs {
					return
				}
				continue
			}
			missedPongs.Store(0)

		case msg, ok := <-c.Send():
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				log.WithError(err).Debug("analytics subscriber write failed")
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
