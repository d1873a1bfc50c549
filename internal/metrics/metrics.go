// Package metrics exposes Prometheus counters for gateway decisions and
// proxy outcomes, served on GET /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision labels for RequestsTotal.
const (
	DecisionAllowed         = "allowed"
	DecisionUnauthenticated = "unauthenticated"
	DecisionRestricted      = "restricted"
	DecisionRateLimited     = "rate_limited"
	DecisionBadRequest      = "bad_request"
)

var (
	// RequestsTotal counts gateway pipeline outcomes.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Requests through the auth gateway by decision.",
	}, []string{"decision"})

	// ProxyForwardsTotal counts proxied requests by API and outcome.
	ProxyForwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_proxy_forwards_total",
		Help: "Requests forwarded to backends by API and outcome.",
	}, []string{"api", "outcome"})

	// LoginsTotal counts session-creation attempts by channel and outcome.
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_logins_total",
		Help: "Login attempts by channel (email, password, code, totp, refresh) and outcome.",
	}, []string{"channel", "outcome"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
