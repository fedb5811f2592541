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

// Package ingress is the public data-plane filter chain: port guard,
// rate-limit filter, anti-bot filter, then proxy. Each
// stage either terminates the request or passes it on; every terminal
// decision emits one decision log entry and one in-process analytics
// count.
package ingress

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/antibot"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/decisionlog"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/errs"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/identity"
	gwmetrics "github.com/ealvarez/poormans-ratelimit/internal/gateway/metrics"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/ratelimit/counter"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/ratelimit/queue"
	"github.com/ealvarez/poormans-ratelimit/internal/gateway/rules"
)

// maxBodyBytes bounds how much of a request body gets buffered:
// requests whose body exceeds it are rejected with 413 rather than
// buffered in full.
const maxBodyBytes = 1 << 20

// RuleMatcher is the subset of rules.Cache the ingress handler depends
// on.
type RuleMatcher interface {
	Match(path, method, host string) []rules.Rule
}

// Aggregator is the subset of analytics.Aggregator the ingress handler
// feeds per-request counts into.
type Aggregator interface {
	RecordAllowed()
	RecordBlocked()
}

// Handler implements the fixed filter chain as an http.Handler.
type Handler struct {
	adminPathPrefix string
	matcher         RuleMatcher
	windowStore     counter.WindowChecker
	queueMgr        *queue.Manager
	validator       *antibot.Validator
	decisions       *decisionlog.Writer
	agg             Aggregator
	log             *logrus.Logger

	proxiesMu sync.RWMutex
	proxies   map[string]*httputil.ReverseProxy
}

// New returns a Handler ready to serve. adminPathPrefix names the path
// prefix reserved for the admin plane; requests under it receive 404
// from the public port.
func New(
	adminPathPrefix string,
	matcher RuleMatcher,
	windowStore counter.WindowChecker,
	queueMgr *queue.Manager,
	validator *antibot.Validator,
	decisions *decisionlog.Writer,
	agg Aggregator,
	log *logrus.Logger,
) *Handler {
	return &Handler{
		adminPathPrefix: adminPathPrefix,
		matcher:         matcher,
		windowStore:     windowStore,
		queueMgr:        queueMgr,
		validator:       validator,
		decisions:       decisions,
		agg:             agg,
		log:             log,
		proxies:         make(map[string]*httputil.ReverseProxy),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.adminPathPrefix != "" && strings.HasPrefix(r.URL.Path, h.adminPathPrefix) {
		http.NotFound(w, r)
		return
	}

	clientIP := clientAddr(r)
	host := hostOnly(r)

	var body []byte
	if isWriteMethod(r.Method) {
		b, err := readBodyCapped(r)
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		body = b
	}

	matched := h.matcher.Match(r.URL.Path, r.Method, host)

	identifierFor := func(rule rules.Rule) string {
		return identity.Resolve(rule, r, body, clientIP, h.log)
	}

	dec, err := counter.Evaluate(r.Context(), h.windowStore, h.queueMgr, matched, identifierFor, time.Now().Unix(), h.log)
	if err != nil {
		h.log.WithError(errs.ErrStoreTransient).WithField("cause", err).Error("rate-limit check failed, failing open")
		dec = counter.Decision{Allowed: true}
	}

	if !dec.Allowed {
		if dec.QueueFull {
			w.Header().Set("X-RateLimit-Queued", "true")
		}
		w.WriteHeader(http.StatusTooManyRequests)
		h.agg.RecordBlocked()
		gwmetrics.ObserveBlocked(dec.BlockedRule)
		h.logDecision(r, host, clientIP, decisionlog.DecisionBlocked, http.StatusTooManyRequests, 0, matched)
		return
	}

	if dec.Queued {
		w.Header().Set("X-RateLimit-Queued", "true")
		w.Header().Set("X-RateLimit-Delay-Ms", strconv.FormatInt(dec.DelayMs, 10))
		select {
		case <-time.After(time.Duration(dec.DelayMs) * time.Millisecond):
		case <-r.Context().Done():
			// Client disconnected mid-delay: abandon without rolling back
			// the queue slot.
			return
		}
	}

	if isWriteMethod(r.Method) && h.validator.ShouldValidate(r.Method) {
		honeypot := r.Header.Get("X-Honeypot")
		loadTime := antibot.ParseFormLoadTime(r.Header.Get("X-Form-Load-Time"))
		token := r.Header.Get("X-Form-Token")
		if token == "" {
			if c, err := r.Cookie("X-Form-Token-Challenge"); err == nil {
				token = c.Value
			}
		}
		idempotencyKey := r.Header.Get("X-Idempotency-Key")

		res := h.validator.Validate(honeypot, loadTime, token, idempotencyKey)
		if !res.OK {
			w.Header().Set("X-Rejection-Reason", string(res.Reason))
			rejectErr := errs.ErrBotSuspected
			if res.StatusCode == http.StatusConflict {
				w.Header().Set("X-Duplicate-Request", "true")
				rejectErr = errs.ErrDuplicateRequest
			}
			h.log.WithError(rejectErr).WithField("reason", res.Reason).Debug("anti-bot validation rejected request")
			w.WriteHeader(res.StatusCode)
			gwmetrics.ObserveAntibotRejected(string(res.Reason))
			if res.Reason == antibot.ReasonDuplicate {
				gwmetrics.ObserveDuplicateRequest()
			}
			h.logDecision(r, host, clientIP, decisionlog.DecisionRejectedByAntibot, res.StatusCode, 0, matched)
			return
		}
	}

	target := selectTarget(matched)
	if target == "" {
		// No rule names an upstream: nothing to forward to. Treat as
		// allowed-but-unrouted, matching the "no enforcing rule" allowance
		// for selection, not for proxying.
		h.agg.RecordAllowed()
		gwmetrics.ObserveAdmitted(primaryRuleID(matched))
		h.logDecision(r, host, clientIP, decisionlog.DecisionAllowed, http.StatusNotFound, dec.DelayMs, matched)
		http.NotFound(w, r)
		return
	}

	proxy, err := h.proxyFor(target)
	if err != nil {
		h.log.WithError(err).WithField("target", target).Error("invalid proxy target")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
	}

	h.agg.RecordAllowed()
	gwmetrics.ObserveAdmitted(primaryRuleID(matched))
	h.logDecision(r, host, clientIP, decisionlog.DecisionAllowed, http.StatusOK, dec.DelayMs, matched)
	proxy.ServeHTTP(w, r)
}

func (h *Handler) logDecision(r *http.Request, host, clientIP string, d decisionlog.Decision, status int, delayMs int64, matched []rules.Rule) {
	ids := make([]string, 0, len(matched))
	for _, m := range matched {
		ids = append(ids, m.ID)
	}
	h.decisions.Append(r.Context(), decisionlog.Entry{
		Method:     r.Method,
		Path:       r.URL.Path,
		Host:       host,
		ClientAddr: clientIP,
		Decision:   d,
		StatusCode: status,
		DelayMs:    delayMs,
		MatchedIDs: ids,
	})
}

func (h *Handler) proxyFor(target string) (*httputil.ReverseProxy, error) {
	h.proxiesMu.RLock()
	p, ok := h.proxies[target]
	h.proxiesMu.RUnlock()
	if ok {
		return p, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	h.proxiesMu.Lock()
	defer h.proxiesMu.Unlock()
	if p, ok := h.proxies[target]; ok {
		return p, nil
	}
	p = httputil.NewSingleHostReverseProxy(u)
	h.proxies[target] = p
	return p, nil
}

func selectTarget(matched []rules.Rule) string {
	for _, r := range matched {
		if r.TargetURI != "" {
			return r.TargetURI
		}
	}
	return ""
}

func primaryRuleID(matched []rules.Rule) string {
	if len(matched) == 0 {
		return ""
	}
	return matched[0].ID
}

func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

func readBodyCapped(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxBodyBytes+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(b) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	return b, nil
}

var errBodyTooLarge = &bodyTooLargeError{}

type bodyTooLargeError struct{}

func (*bodyTooLargeError) Error() string { return "request body exceeds the configured cap" }

func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func hostOnly(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

