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

// Package main is the public data-plane process: it accepts inbound
// HTTP traffic, runs it through the rate-limit and anti-bot filter
// chain, and proxies admitted requests upstream. The admin plane
// (rule CRUD, config, analytics, the /ws/analytics stream) is a
// separate process; see cmd/admin.
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

	"github.com/sirupsen/logrus"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/analytics"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/antibot"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/decisionlog"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/ingress"
	gwmetrics "github.com/ealvarez/poormans-ratelimit/internal/gateway/metrics"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/ratelimit/queue"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/rules"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/state"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/sysconfig"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/tokens"
)

func main() {
	httpAddr := flag.String("http_addr", ":8080", "public data-plane HTTP listen address")
	redisAddr := flag.String("redis_addr", "127.0.0.1:6379", "shared-state Redis address")
	adminPathPrefix := flag.String("admin_path_prefix", "/poormansRateLimit/api/admin", "path prefix reserved for the admin plane; the public port 404s under it")
	decisionLogMaxEntries := flag.Int("decision_log_max_entries", 10000, "bound on the shared decision log list")
	ruleRefreshInterval := flag.Duration("rule_refresh_interval", 10*time.Second, "how often the rule cache polls the store for changes")
	configRefreshInterval := flag.Duration("config_refresh_interval", 10*time.Second, "how often the system config cache polls the store for changes")
	queueSweepInterval := flag.Duration("queue_sweep_interval", 30*time.Second, "how often the queue-depth sweeper scans for drained entries")
	queueSweepIdleFor := flag.Duration("queue_sweep_idle_for", 2*time.Minute, "how long a drained queue entry must sit idle before the sweeper reclaims it")
	analyticsTick := flag.Duration("analytics_tick", 5*time.Second, "analytics aggregator flush tick")
	analyticsPrune := flag.Duration("analytics_prune_interval", time.Minute, "analytics aggregator prune tick")
	metricsEnabled := flag.Bool("metrics_enabled", true, "collect Prometheus metrics")
	metricsAddr := flag.String("metrics_addr", ":9090", "if non-empty, expose Prometheus /metrics on this address")
	decisionLogSink := flag.String("decision_log_sink", "none", "decision-log archival sink: none, kafka, or postgres")
	kafkaBrokersFlag := flag.String("kafka_brokers", "", "comma-separated Kafka brokers for decision-log archival")
	kafkaTopic := flag.String("kafka_topic", "gateway-decisions", "Kafka topic for decision-log archival")
	postgresDSN := flag.String("postgres_dsn", "", "Postgres DSN for decision-log archival")
	archiveInterval := flag.Duration("decision_log_archive_interval", time.Minute, "how often the decision log is trimmed and, if a sink is configured, its overflow archived")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	gwmetrics.Enable(gwmetrics.Config{Enabled: *metricsEnabled, MetricsAddr: *metricsAddr})

	eval := state.NewGoRedisEvaler(*redisAddr)
	defer eval.Close()
	store := state.New(eval)

	var kafkaBrokers []string
	if *kafkaBrokersFlag != "" {
		for _, b := range strings.Split(*kafkaBrokersFlag, ",") {
			if b = strings.TrimSpace(b); b != "" {
				kafkaBrokers = append(kafkaBrokers, b)
			}
		}
	}
	sink, err := state.BuildSink(context.Background(), *decisionLogSink, state.SinkOptions{
		KafkaBrokers: kafkaBrokers,
		KafkaTopic:   *kafkaTopic,
		PostgresDSN:  *postgresDSN,
	})
	if err != nil {
		log.WithError(err).Fatal("build decision log archival sink")
	}
	archiver := decisionlog.NewArchiver(store, sink, log, *decisionLogMaxEntries, *archiveInterval)
	archiver.Start()
	defer archiver.Stop()

	ruleCache := rules.New(store, log)
	if err := ruleCache.Refresh(context.Background()); err != nil {
		log.WithError(err).Warn("initial rule cache refresh failed, starting with an empty rule set")
	}
	configCache := sysconfig.New(store, log)
	if err := configCache.Refresh(context.Background()); err != nil {
		log.WithError(err).Warn("initial system config refresh failed, starting with defaults")
	}

	stopRefresh := startPeriodicRefresh(ruleCache, configCache, log, *ruleRefreshInterval, *configRefreshInterval)
	defer stopRefresh()

	queueMgr := queue.NewManager()
	sweeper := queue.NewSweeper(queueMgr, log, *queueSweepInterval, *queueSweepIdleFor)
	sweeper.Start()
	defer sweeper.Stop()

	validator := antibot.New(configCache, log)
	decisions := decisionlog.New(store, log, *decisionLogMaxEntries)
	agg := analytics.New(store, configCache, log, *analyticsTick, *analyticsPrune)
	agg.Start()
	defer agg.Stop()

	tokenHandler := tokens.New(validator, configCache, log)
	ingressHandler := ingress.New(*adminPathPrefix, ruleCache, store, queueMgr, validator, decisions, agg, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tokens/form", tokenHandler.HandleForm)
	mux.HandleFunc("GET /api/tokens/challenge", tokenHandler.HandleChallenge)
	mux.Handle("/", ingressHandler)

	httpServer := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", *httpAddr).Info("gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("gateway http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down gateway")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("gateway http server shutdown failed")
	}
}

// startPeriodicRefresh keeps the rule and config caches in sync with the
// store on a fixed poll, in addition to the admin plane's explicit
// POST /rules/refresh. Returns a stop function.
func startPeriodicRefresh(ruleCache *rules.Cache, configCache *sysconfig.Cache, log *logrus.Logger, ruleInterval, configInterval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(ruleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ruleCache.Refresh(context.Background()); err != nil {
					log.WithError(err).Warn("periodic rule cache refresh failed")
				}
			case <-stop:
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(configInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := configCache.Refresh(context.Background()); err != nil {
					log.WithError(err).Warn("periodic system config refresh failed")
				}
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
