package domain

import "time"

// User roles the gateway treats as privileged when listing or invalidating
// other users' sessions.
const (
	RoleSysadmin = "sysadmin"
	RoleEmployee = "employee"
)

// User is an end-user account. The administrative subsystem owns creation
// and updates; the gateway reads users to authenticate logins and to reject
// banned or deleted accounts.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// PasswordBcrypt is empty for accounts without password login.
	PasswordBcrypt string `json:"-"`
	// TOTPSecret, when set, makes every login require a TOTP second factor.
	TOTPSecret string     `json:"-"`
	BannedAt   *time.Time `json:"bannedAt,omitempty"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// TOTPRequired reports whether login must complete a TOTP step.
func (u *User) TOTPRequired() bool {
	return u.TOTPSecret != ""
}

// Email is an address attached to a user account. Login flows address users
// by email.
type Email struct {
	Email      string     `json:"email"`
	UserID     string     `json:"userId"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}
