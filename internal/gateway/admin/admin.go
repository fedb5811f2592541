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

// Package admin implements the loopback-bound admin plane: rule CRUD,
// config read/write, and analytics queries, all under base path
// /poormansRateLimit/api/admin. Authenticating this surface further is
// left to whatever process wires this Handler into a server; the
// contract here is just that it binds to loopback only.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/analytics"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/rules"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/sysconfig"
)

// RuleStore is the subset of state.Store the admin handlers mutate rules
// through directly; reads for listing go through the shared rules.Cache
// instead, so every GET reflects the same snapshot the data plane uses.
type RuleStore interface {
	PutRule(ctx context.Context, id, ruleJSON string) error
	GetRule(ctx context.Context, id string) (string, bool, error)
	DeleteRule(ctx context.Context, id string) error
}

// ConfigStore is the subset of state.Store the admin handlers write
// config through.
type ConfigStore interface {
	SetConfig(ctx context.Context, key, value string) error
}

// RuleCache is the subset of rules.Cache the admin handlers read from
// and force-refresh.
type RuleCache interface {
	Refresh(ctx context.Context) error
	Snapshot() []rules.Rule
}

// ConfigCache is the subset of sysconfig.Cache the admin handlers read
// from and force-refresh.
type ConfigCache interface {
	Refresh(ctx context.Context) error
	All() map[string]string
}

// Handler serves every admin-plane route except the websocket stream,
// which is wired separately (see push.Serve).
type Handler struct {
	ruleStore   RuleStore
	configStore ConfigStore
	ruleCache   RuleCache
	configCache ConfigCache
	reader      *analytics.Reader
	log         *logrus.Logger
}

// New returns a Handler backed by the given stores, caches and
// analytics reader.
func New(ruleStore RuleStore, configStore ConfigStore, ruleCache RuleCache, configCache ConfigCache, reader *analytics.Reader, log *logrus.Logger) *Handler {
	return &Handler{
		ruleStore:   ruleStore,
		configStore: configStore,
		ruleCache:   ruleCache,
		configCache: configCache,
		reader:      reader,
		log:         log,
	}
}

// RegisterRoutes wires every admin endpoint onto mux under prefix
// (e.g. "/poormansRateLimit/api/admin"), using Go's enhanced ServeMux
// patterns for path parameters.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/rules", h.listRules)
	mux.HandleFunc("GET "+prefix+"/rules/active", h.listActiveRules)
	mux.HandleFunc("POST "+prefix+"/rules/refresh", h.refreshRules)
	mux.HandleFunc("GET "+prefix+"/rules/{id}", h.getRule)
	mux.HandleFunc("POST "+prefix+"/rules", h.createRule)
	mux.HandleFunc("PUT "+prefix+"/rules/{id}", h.replaceRule)
	mux.HandleFunc("PATCH "+prefix+"/rules/{id}/queue", h.patchQueue)
	mux.HandleFunc("PATCH "+prefix+"/rules/{id}/body-limit", h.patchBodyLimit)
	mux.HandleFunc("DELETE "+prefix+"/rules/{id}", h.deleteRule)

	mux.HandleFunc("GET "+prefix+"/config", h.listConfig)
	mux.HandleFunc("POST "+prefix+"/config/{key}", h.setConfig)

	mux.HandleFunc("GET "+prefix+"/analytics/summary", h.analyticsSummary)
	mux.HandleFunc("GET "+prefix+"/analytics/timeseries", h.analyticsTimeseries)
	mux.HandleFunc("GET "+prefix+"/analytics/traffic", h.analyticsTraffic)
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ruleCache.Snapshot())
}

func (h *Handler) listActiveRules(w http.ResponseWriter, r *http.Request) {
	snapshot := h.ruleCache.Snapshot()
	active := make([]rules.Rule, 0, len(snapshot))
	for _, rule := range snapshot {
		if rule.Active {
			active = append(active, rule)
		}
	}
	writeJSON(w, http.StatusOK, active)
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	raw, ok, err := h.ruleStore.GetRule(r.Context(), id)
	if err != nil {
		h.internalError(w, "get rule", err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(raw))
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := rule.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.putAndRefresh(w, r, rule) {
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) replaceRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	rule.ID = id
	if err := rule.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.putAndRefresh(w, r, rule) {
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

type queuePatch struct {
	QueueEnabled      bool  `json:"queueEnabled"`
	MaxQueueSize      int64 `json:"maxQueueSize"`
	DelayPerRequestMs int64 `json:"delayPerRequestMs"`
}

func (h *Handler) patchQueue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rule, ok := h.loadRule(w, r, id)
	if !ok {
		return
	}
	var patch queuePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	rule.QueueEnabled = patch.QueueEnabled
	rule.MaxQueueSize = patch.MaxQueueSize
	rule.DelayPerRequestMs = patch.DelayPerRequestMs
	if err := rule.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.putAndRefresh(w, r, rule) {
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

type bodyLimitPatch struct {
	BodyLimitEnabled bool   `json:"bodyLimitEnabled"`
	BodyFieldPath    string `json:"bodyFieldPath"`
	BodyLimitType    string `json:"bodyLimitType"`
}

func (h *Handler) patchBodyLimit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rule, ok := h.loadRule(w, r, id)
	if !ok {
		return
	}
	var patch bodyLimitPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	rule.BodyLimitEnabled = patch.BodyLimitEnabled
	rule.BodyFieldPath = patch.BodyFieldPath
	rule.BodyLimitType = patch.BodyLimitType
	if err := rule.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.putAndRefresh(w, r, rule) {
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.ruleStore.DeleteRule(r.Context(), id); err != nil {
		h.internalError(w, "delete rule", err)
		return
	}
	if err := h.ruleCache.Refresh(r.Context()); err != nil {
		h.log.WithError(err).Warn("rule cache refresh after delete failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) refreshRules(w http.ResponseWriter, r *http.Request) {
	if err := h.ruleCache.Refresh(r.Context()); err != nil {
		h.internalError(w, "refresh rule cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadRule(w http.ResponseWriter, r *http.Request, id string) (rules.Rule, bool) {
	raw, ok, err := h.ruleStore.GetRule(r.Context(), id)
	if err != nil {
		h.internalError(w, "get rule", err)
		return rules.Rule{}, false
	}
	if !ok {
		http.NotFound(w, r)
		return rules.Rule{}, false
	}
	var rule rules.Rule
	if err := json.Unmarshal([]byte(raw), &rule); err != nil {
		h.internalError(w, "decode stored rule", err)
		return rules.Rule{}, false
	}
	return rule, true
}

func (h *Handler) putAndRefresh(w http.ResponseWriter, r *http.Request, rule rules.Rule) bool {
	payload, err := json.Marshal(rule)
	if err != nil {
		h.internalError(w, "marshal rule", err)
		return false
	}
	if err := h.ruleStore.PutRule(r.Context(), rule.ID, string(payload)); err != nil {
		h.internalError(w, "put rule", err)
		return false
	}
	if err := h.ruleCache.Refresh(r.Context()); err != nil {
		h.log.WithError(err).Warn("rule cache refresh after write failed")
	}
	return true
}

func (h *Handler) listConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.configCache.All())
}

type configPatch struct {
	Value string `json:"value"`
}

func (h *Handler) setConfig(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := sysconfig.Validate(key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var patch configPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if err := h.configStore.SetConfig(r.Context(), key, patch.Value); err != nil {
		h.internalError(w, "set config", err)
		return
	}
	if err := h.configCache.Refresh(r.Context()); err != nil {
		h.log.WithError(err).Warn("config cache refresh after write failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reader.Summary24h(r.Context())
	if err != nil {
		h.internalError(w, "analytics summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) analyticsTimeseries(w http.ResponseWriter, r *http.Request) {
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	points, err := h.reader.Timeseries(r.Context(), hours)
	if err != nil {
		h.internalError(w, "analytics timeseries", err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) analyticsTraffic(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.reader.Traffic(r.Context(), limit)
	if err != nil {
		h.internalError(w, "analytics traffic", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, "[")
	for i, e := range entries {
		if i > 0 {
			fmt.Fprint(w, ",")
		}
		fmt.Fprint(w, e)
	}
	fmt.Fprint(w, "]")
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.log.WithError(err).Error(op)
	http.Error(w, op+" failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return
	}
}
