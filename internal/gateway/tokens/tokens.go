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

// Package tokens implements the two public data-plane endpoints that
// feed the anti-bot filter: the JSON token issuance an AJAX-driven
// form uses directly, and the HTML challenge page the
// no-JS fallback loads instead. Both ultimately call through to
// antibot.Validator.IssueToken; the challenge page additionally picks
// its rendering from the configured antibot-challenge-type.
package tokens

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/sirupsen/logrus"
)

const challengeCookieName = "X-Form-Token-Challenge"

// Issuer is the subset of antibot.Validator the handlers depend on.
type Issuer interface {
	IssueToken() (token string, loadTimeMs int64, honeypotField string, err error)
	TokenTTLSeconds() int64
}

// Config is the subset of sysconfig.Cache the challenge page reads to
// pick its rendering and meta-refresh delay.
type Config interface {
	ChallengeType() string
	MetarefreshDelaySec() int64
}

// Handler serves /api/tokens/form and /api/tokens/challenge.
type Handler struct {
	validator Issuer
	cfg       Config
	log       *logrus.Logger
}

// New returns a Handler backed by validator and cfg.
func New(validator Issuer, cfg Config, log *logrus.Logger) *Handler {
	return &Handler{validator: validator, cfg: cfg, log: log}
}

type formResponse struct {
	Token         string `json:"token"`
	LoadTime      int64  `json:"loadTime"`
	HoneypotField string `json:"honeypotField"`
	ExpiresIn     int64  `json:"expiresIn"`
}

// HandleForm answers GET /api/tokens/form with the JSON payload an
// AJAX-driven form embeds as hidden fields.
func (h *Handler) HandleForm(w http.ResponseWriter, r *http.Request) {
	token, loadTime, honeypotField, err := h.validator.IssueToken()
	if err != nil {
		h.log.WithError(err).Error("issue anti-bot token")
		http.Error(w, "token issuance failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(formResponse{
		Token:         token,
		LoadTime:      loadTime,
		HoneypotField: honeypotField,
		ExpiresIn:     h.validator.TokenTTLSeconds(),
	})
}

// HandleChallenge answers GET /api/tokens/challenge with an HTML page
// selected by antibot-challenge-type, setting the fallback cookie the
// ingress filter reads when the header is absent.
func (h *Handler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	token, loadTime, honeypotField, err := h.validator.IssueToken()
	if err != nil {
		h.log.WithError(err).Error("issue anti-bot token")
		http.Error(w, "token issuance failed", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     challengeCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.validator.TokenTTLSeconds()),
	})

	data := challengeData{
		Token:          token,
		LoadTime:       loadTime,
		HoneypotField:  honeypotField,
		RefreshSeconds: h.cfg.MetarefreshDelaySec(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	tmpl := templateFor(h.cfg.ChallengeType())
	if err := tmpl.Execute(w, data); err != nil {
		h.log.WithError(err).Error("render anti-bot challenge page")
	}
}

type challengeData struct {
	Token          string
	LoadTime       int64
	HoneypotField  string
	RefreshSeconds int64
}

func templateFor(challengeType string) *template.Template {
	switch challengeType {
	case "javascript":
		return javascriptTemplate
	case "preact":
		return preactTemplate
	default:
		return metarefreshTemplate
	}
}

var metarefreshTemplate = template.Must(template.New("metarefresh").Parse(`<!doctype html>
<html><head><meta http-equiv="refresh" content="{{.RefreshSeconds}}"></head>
<body>
<form method="POST">
<input type="hidden" name="_form_token" value="{{.Token}}">
<input type="hidden" name="_form_load_time" value="{{.LoadTime}}">
<input type="text" name="{{.HoneypotField}}" style="display:none" tabindex="-1" autocomplete="off">
<noscript><button type="submit">Continue</button></noscript>
</form>
</body></html>`))

var javascriptTemplate = template.Must(template.New("javascript").Parse(`<!doctype html>
<html><body>
<script>
window.formToken = {{.Token}};
window.formLoadTime = {{.LoadTime}};
window.honeypotField = {{.HoneypotField}};
</script>
</body></html>`))

var preactTemplate = template.Must(template.New("preact").Parse(`<!doctype html>
<html><body>
<div id="root" data-token="{{.Token}}" data-load-time="{{.LoadTime}}" data-honeypot-field="{{.HoneypotField}}"></div>
<script src="/static/challenge-preact.js"></script>
</body></html>`))
