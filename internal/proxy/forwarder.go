// Package proxy forwards authorized requests to the backend behind the
// requested API, replacing the caller's credentials with the gateway's
// identity assertion.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apidomain "auth-gateway/internal/apidir/domain"
	"auth-gateway/internal/gateway"
	"auth-gateway/internal/httperr"
	"auth-gateway/internal/metrics"
	"auth-gateway/internal/security"
)

// APIDirectory resolves an API name and version to its directory entry.
type APIDirectory interface {
	GetConfig(ctx context.Context, apiDomain, version string) (*apidomain.Api, error)
}

// Forwarder proxies requests matching /{api}/{version}/... to the backend
// the directory resolves. One shared transport serves every backend.
type Forwarder struct {
	apis       APIDirectory
	asserter   *security.Asserter
	headerName string
	transport  http.RoundTripper
}

// New returns a Forwarder. asserter may be nil, in which case assertions are
// base64 JSON and marked unsigned. timeout bounds how long a backend may take
// to produce response headers.
func New(apis APIDirectory, asserter *security.Asserter, headerName string, timeout time.Duration) *Forwarder {
	return &Forwarder{
		apis:       apis,
		asserter:   asserter,
		headerName: headerName,
		transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
	}
}

// Handler is mounted as the router's NoRoute handler: anything that is not a
// gateway-owned route is a proxy candidate.
func (f *Forwarder) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name, version, rest := splitPath(c.Request.URL.Path)
		if name == "" || version == "" {
			httperr.Render(c, httperr.BadRequest("API-NOT-FOUND",
				"Requests must be addressed to /{api}/{version}/..."))
			return
		}

		api, err := f.apis.GetConfig(c.Request.Context(), name, version)
		if err != nil {
			httperr.Render(c, err)
			return
		}
		if !api.Active {
			httperr.Render(c, httperr.ServiceUnavailable("API-NOT-AVAILABLE",
				fmt.Sprintf("The %s API is currently not available.", name)))
			return
		}

		auth := gateway.GetAuthContext(c)
		if auth == nil {
			// The pipeline must run before the proxy; reaching this point
			// without it is a wiring defect.
			httperr.Render(c, httperr.Internal("The request was not authenticated."))
			return
		}

		target, err := url.Parse(api.URL)
		if err != nil {
			httperr.Render(c, fmt.Errorf("backend url for %s/%s: %w", name, version, err))
			return
		}

		assertion, alg, err := f.assert(auth, api.URL)
		if err != nil {
			httperr.Render(c, err)
			return
		}

		c.Request.Header.Del("Authorization")
		c.Request.Header.Set(f.headerName, assertion)
		if alg != "" {
			c.Request.Header.Set(f.headerName+"-signed", "1")
			c.Request.Header.Set(f.headerName+"-algorithm", alg)
		} else {
			c.Request.Header.Set(f.headerName+"-signed", "0")
		}
		if api.Deprecated {
			c.Header("Deprecation", "true")
		}

		rp := &httputil.ReverseProxy{
			Transport: f.transport,
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.SetURL(target)
				pr.Out.URL.Path = singleJoin(target.Path, rest)
				pr.Out.URL.RawPath = ""
			},
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				slog.Error("backend unreachable", "api", name, "version", version, "error", err)
				metrics.ProxyForwardsTotal.WithLabelValues(name, "unreachable").Inc()
				writeJSONError(w, http.StatusServiceUnavailable, "API-NOT-RESPONDING",
					fmt.Sprintf("Sorry, the %s API is currently not responding. Please try again later.", name))
			},
		}
		metrics.ProxyForwardsTotal.WithLabelValues(name, "forwarded").Inc()
		rp.ServeHTTP(c.Writer, c.Request)
	}
}

// assert builds the identity assertion for the auth context. Returns the
// header value and the algorithm name, empty when unsigned.
func (f *Forwarder) assert(auth *gateway.AuthContext, audience string) (string, string, error) {
	if f.asserter == nil {
		encoded, err := security.EncodeUnsigned(auth)
		return encoded, "", err
	}
	token, err := f.asserter.Sign(auth, audience)
	if err != nil {
		return "", "", err
	}
	return token, f.asserter.Algorithm(), nil
}

func splitPath(path string) (name, version, rest string) {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) > 0 {
		name = parts[0]
	}
	if len(parts) > 1 {
		version = parts[1]
	}
	if len(parts) > 2 {
		rest = "/" + parts[2]
	}
	return name, version, rest
}

func singleJoin(a, b string) string {
	a = strings.TrimSuffix(a, "/")
	if b == "" {
		if a == "" {
			return "/"
		}
		return a
	}
	return a + b
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"status": status, "code": code, "message": message},
	})
}
