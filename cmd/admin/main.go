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

// Package main is the admin-plane process: rule CRUD, config
// read/write, analytics queries, and the /ws/analytics push stream.
// Binds to loopback only; authenticating this surface further is
// left to whatever sits in front of it.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/admin"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/analytics"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/analytics/push"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/rules"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/state"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/sysconfig"
)

func main() {
	httpAddr := flag.String("http_addr", "127.0.0.1:8081", "admin-plane HTTP listen address; should stay loopback-bound")
	redisAddr := flag.String("redis_addr", "127.0.0.1:6379", "shared-state Redis address")
	adminPathPrefix := flag.String("admin_path_prefix", "/poormansRateLimit/api/admin", "base path for every admin route")
	publishInterval := flag.Duration("publish_interval", 2*time.Second, "how often the push broadcaster sends a fresh summary to subscribers")
	wsOrigins := flag.String("ws_origin_patterns", "", "comma-separated origin patterns accepted for the /ws/analytics upgrade (empty allows any, fine behind loopback binding)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	eval := state.NewGoRedisEvaler(*redisAddr)
	defer eval.Close()
	store := state.New(eval)

	ruleCache := rules.New(store, log)
	if err := ruleCache.Refresh(context.Background()); err != nil {
		log.WithError(err).Warn("initial rule cache refresh failed, starting with an empty rule set")
	}
	configCache := sysconfig.New(store, log)
	if err := configCache.Refresh(context.Background()); err != nil {
		log.WithError(err).Warn("initial system config refresh failed, starting with defaults")
	}

	reader := analytics.NewReader(store, ruleCache)
	adminHandler := admin.New(store, store, ruleCache, configCache, reader, log)

	hub := push.NewHub(log)
	go hub.Run()
	defer hub.Shutdown()

	stopPublish := startPublishLoop(hub, reader, log, *publishInterval)
	defer stopPublish()

	var originPatterns []string
	if *wsOrigins != "" {
		for _, p := range strings.Split(*wsOrigins, ",") {
			if p = strings.TrimSpace(p); p != "" {
				originPatterns = append(originPatterns, p)
			}
		}
	}

	mux := http.NewServeMux()
	adminHandler.RegisterRoutes(mux, *adminPathPrefix)
	mux.HandleFunc(*adminPathPrefix+"/ws/analytics", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			log.WithError(err).Error("websocket accept failed")
			return
		}
		snapshot, err := reader.Summary24h(r.Context())
		if err != nil {
			log.WithError(err).Error("build analytics snapshot for new subscriber")
			snapshot = analytics.Summary{}
		}
		push.Serve(r.Context(), hub, conn, snapshot, log)
	})

	httpServer := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", *httpAddr).Info("admin plane listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("admin http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down admin plane")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("admin http server shutdown failed")
	}
}

// startPublishLoop periodically recomputes the 24h summary and pushes
// it to every subscriber, independent of the rate at which any one
// subscriber connects. Returns a stop function.
func startPublishLoop(hub *push.Hub, reader *analytics.Reader, log *logrus.Logger, interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				summary, err := reader.Summary24h(context.Background())
				if err != nil {
					log.WithError(err).Warn("compute analytics summary for broadcast")
					continue
				}
				hub.Publish(summary)
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
