package domain

import "time"

// Client role the logout flow treats as privileged: internal system services
// may invalidate sessions they do not own.
const RoleInternal = "internal"

// Client is a registered API consumer (a service or partner), distinct from
// an end user. The administrative subsystem owns these rows; the gateway only
// reads them.
type Client struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	// SecretBcrypt is the bcrypt hash of the client secret. The plaintext is
	// never stored.
	SecretBcrypt   string `json:"-"`
	OrganizationID string `json:"organizationId"`
	// ReqsPerSec is the client's rate quota. Negative means unlimited.
	ReqsPerSec int        `json:"reqsPerSec"`
	CreatedAt  time.Time  `json:"createdAt"`
	DeletedAt  *time.Time `json:"-"`
}

// RestrictionType is the kind of an access restriction allow-list entry.
type RestrictionType string

const (
	RestrictionIP   RestrictionType = "ip"
	RestrictionHost RestrictionType = "host"
	RestrictionAPI  RestrictionType = "api"
)

// AccessRestriction narrows where a client may call from (ip, host) or what
// it may call (api). Restrictions of the same type form an allow-list; a type
// with no entries imposes no restriction.
type AccessRestriction struct {
	ID       string          `json:"id"`
	ClientID string          `json:"clientId"`
	Type     RestrictionType `json:"type"`
	Value    string          `json:"value"`
}
