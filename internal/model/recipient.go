// internal/model/recipient.go
package model

import "time"

type Recipient struct {
	ID               string    `db:"id" json:"id"`
	Role             Role      `db:"role" json:"role"`
	Name             string    `db:"name" json:"name"`
	Email            string    `db:"email" json:"email,omitempty"`
	Phone            string    `db:"phone" json:"phone,omitempty"`
	State            string    `db:"state" json:"state,omitempty"`
	City             string    `db:"city" json:"city,omitempty"`
	VerifiedReporter bool      `db:"verified_reporter" json:"verified_reporter"`
	IsVerified       bool      `db:"is_verified" json:"is_verified"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// EligibleFor reports whether the recipient holds the verification flag of role.
func (r Recipient) EligibleFor(role Role) bool {
	if r.Role != role {
		return false
	}
	switch role {
	case RoleReporter:
		return r.VerifiedReporter
	case RoleInfluencer:
		return r.IsVerified
	}
	return false
}

// DirectoryQuery filters the recipient population. Empty slices do not filter.
type DirectoryQuery struct {
	Role   Role
	IDs    []string
	States []string
	Cities []string
}
