package models

import "time"

//nolint:gosec //file not handles sensitive data
const (
	MwAPIKeyHeader        = "X-API-Key"
	MwCSRFHeader          = "X-CSRF-Token"
	MwTokenExpiringHeader = "X-Token-Expiring"
	MwNewAccessHeader     = "X-New-Access-Token"

	MwUserIDKey   = "userId"
	MwTokenExpKey = "tokenExp"
	MwTokenIatKey = "tokenIat"
	MwUserKey     = "user"

	RefreshCookieName = "refreshToken"
	CSRFCookieName    = "_csrf"
	CSRFFormField     = "_csrf"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// UserMetadata describes the client a token was issued to.
type UserMetadata struct {
	UserAgent string `json:"user_agent"`
	IPAddress string `json:"ip_address"`
}

// TokenClaims is the decoded form of an access token.
type TokenClaims struct {
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}
