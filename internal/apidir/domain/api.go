package domain

import "time"

// Api is one version of a backend API the gateway fronts. The administrative
// subsystem owns these rows; the gateway only reads them.
type Api struct {
	// Domain is the API name, matched against the first path segment of
	// inbound requests (e.g. "accounts" for /accounts/v1/...).
	Domain string `json:"domain"`
	// Version is matched against the second path segment (e.g. "v1").
	Version string `json:"version"`
	// URL is the backend base URL requests are forwarded to.
	URL string `json:"url"`
	// AllowUnidentified permits requests that carry no client id.
	AllowUnidentified bool `json:"allowUnidentified"`
	Active            bool `json:"active"`
	Deprecated        bool `json:"deprecated"`
	CreatedAt         time.Time `json:"createdAt"`
}
