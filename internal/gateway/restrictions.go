package gateway

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"auth-gateway/internal/client/domain"
	"auth-gateway/internal/httperr"
)

// EnforceRestrictions checks the client's access-restriction rows against the
// caller ip, the caller host (Origin header), and the requested API name.
// Restrictions of one kind form an allow-list; kinds with no rows impose
// nothing. All present kinds must pass.
func EnforceRestrictions(restrictions []*domain.AccessRestriction, ip, host, api string) error {
	var ips, hosts, apis []string
	for _, r := range restrictions {
		switch r.Type {
		case domain.RestrictionIP:
			ips = append(ips, r.Value)
		case domain.RestrictionHost:
			hosts = append(hosts, r.Value)
		case domain.RestrictionAPI:
			apis = append(apis, r.Value)
		}
	}

	if len(ips) > 0 && !ipAllowed(ips, ip) {
		return httperr.Unauthorized("ACCESS-RESTRICTION-IP",
			fmt.Sprintf("Access from ip '%s' is not allowed for this client.", ip))
	}
	if len(hosts) > 0 && !contains(hosts, host) {
		return httperr.Unauthorized("ACCESS-RESTRICTION-HOST",
			fmt.Sprintf("Access from host '%s' is not allowed for this client.", host))
	}
	if len(apis) > 0 && !contains(apis, api) {
		return httperr.Forbidden("ACCESS-RESTRICTION-API",
			fmt.Sprintf("Access to the '%s' API is not allowed for this client.", api))
	}
	return nil
}

func ipAllowed(allowed []string, ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, entry := range allowed {
		prefix, err := parseCIDR(entry)
		if err != nil {
			// A bad row blocks nothing but should be fixed in the data.
			slog.Warn("skipping malformed ip restriction", "value", entry, "error", err)
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseCIDR accepts either a CIDR range or a bare address, which gets a
// single-address mask.
func parseCIDR(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
