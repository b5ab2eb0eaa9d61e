package models

import "time"

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        *User     `json:"user"`
	CSRFToken   string    `json:"csrfToken"`
}

type RefreshResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type CSRFTokenResponse struct {
	CSRFToken string `json:"csrfToken"`
	Expires   string `json:"expires"`
}

type CreateJournalEntryRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Envelope is the body of every API response.
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
	Status    int         `json:"status"`
}
