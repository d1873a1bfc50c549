// Package apidir resolves requested API names and versions to backend
// configuration, caching lookups since directory rows change rarely.
package apidir

import (
	"context"
	"fmt"
	"strings"
	"time"

	"auth-gateway/internal/apidir/domain"
	"auth-gateway/internal/apidir/repository"
	"auth-gateway/internal/cache"
	"auth-gateway/internal/httperr"
)

// Service is the cached API directory lookup used by the gateway and proxy.
type Service struct {
	repo  repository.Repository
	cache cache.Cache
	ttl   time.Duration
}

// NewService returns a directory Service caching lookups for ttl.
func NewService(repo repository.Repository, c cache.Cache, ttl time.Duration) *Service {
	return &Service{repo: repo, cache: c, ttl: ttl}
}

// AllowsUnidentified reports whether the resolved API accepts requests that
// carry no client id.
func (s *Service) AllowsUnidentified(ctx context.Context, apiDomain, version string) (bool, error) {
	api, err := s.GetConfig(ctx, apiDomain, version)
	if err != nil {
		return false, err
	}
	return api.AllowUnidentified, nil
}

// GetConfig resolves the requested API name and version. Unknown APIs and
// unknown versions are BadRequest (the caller asked for something that does
// not exist); the unknown-version message lists the versions that do.
func (s *Service) GetConfig(ctx context.Context, apiDomain, version string) (*domain.Api, error) {
	key := fmt.Sprintf("api:%s:%s", apiDomain, version)
	return cache.GetOrFillJSON(ctx, s.cache, key, s.ttl, func(ctx context.Context) (*domain.Api, error) {
		versions, err := s.repo.ListVersions(ctx, apiDomain)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, httperr.BadRequest("API-NOT-FOUND",
				fmt.Sprintf("API '%s' does not exist.", apiDomain))
		}
		available := make([]string, 0, len(versions))
		for _, v := range versions {
			if v.Version == version {
				return v, nil
			}
			available = append(available, v.Version)
		}
		return nil, httperr.BadRequest("API-VERSION-NOT-FOUND",
			fmt.Sprintf("API '%s' exists, but not in version '%s'. Available versions are %s.",
				apiDomain, version, strings.Join(available, ", ")))
	})
}
