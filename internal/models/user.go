package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleManager UserRole = "MANAGER"
	RoleAgent   UserRole = "AGENT"
)

// ComplianceStatus tracks the privacy state of an identity record.
type ComplianceStatus string

const (
	ComplianceStatusActive     ComplianceStatus = "active"
	ComplianceStatusDeleted    ComplianceStatus = "deleted"
	ComplianceStatusAnonymized ComplianceStatus = "anonymized"
)

// User represents a CRM user stored in the users table. Users are the
// subjects of privacy-rights workflows.
type User struct {
	ID                  string           `db:"id" json:"id"`
	Email               string           `db:"email" json:"email"`
	PasswordHash        string           `db:"password_hash" json:"-"`
	FirstName           string           `db:"first_name" json:"first_name"`
	LastName            string           `db:"last_name" json:"last_name"`
	Company             *string          `db:"company" json:"company,omitempty"`
	Role                UserRole         `db:"role" json:"role"`
	Active              bool             `db:"active" json:"active"`
	ComplianceStatus    ComplianceStatus `db:"compliance_status" json:"compliance_status"`
	ComplianceUpdatedAt *time.Time       `db:"compliance_updated_at" json:"compliance_updated_at,omitempty"`
	LastLogin           *time.Time       `db:"last_login" json:"last_login,omitempty"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
}

// Consent records one subject's grant or revocation of a processing purpose.
type Consent struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	ConsentType string     `db:"consent_type" json:"consent_type"`
	Granted     bool       `db:"granted" json:"granted"`
	GrantedAt   *time.Time `db:"granted_at" json:"granted_at,omitempty"`
	RevokedAt   *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
