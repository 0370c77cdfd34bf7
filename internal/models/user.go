package models

import "github.com/mindgallery/gallery-api/internal/store"

// User is the profile item (USER#<id> / PROFILE). Timestamps are unix milliseconds.
type User struct {
	store.Key
	UserID        string `json:"userId" dynamodbav:"userId"`
	Username      string `json:"username" dynamodbav:"username"`
	Email         string `json:"email" dynamodbav:"email"`
	Name          string `json:"name" dynamodbav:"name"`
	About         string `json:"about,omitempty" dynamodbav:"about,omitempty"`
	Role          string `json:"role" dynamodbav:"role"`
	PasswordHash  string `json:"-" dynamodbav:"passwordHash"`          // bcrypt hash (never in JSON)
	LastRefreshID string `json:"-" dynamodbav:"lastRefreshId,omitempty"` // rotation id of the only honored refresh token
	CreatedAt     int64  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt,omitempty" dynamodbav:"updatedAt,omitempty"`

	GSI1PK string `json:"-" dynamodbav:"GSI1PK"`
	GSI1SK string `json:"-" dynamodbav:"GSI1SK"`
	GSI2PK string `json:"-" dynamodbav:"GSI2PK"`
	GSI2SK string `json:"-" dynamodbav:"GSI2SK"`
}

// UniqueGuard reserves a username or email (USERNAME#<u> / UNIQUE, EMAIL#<e> / UNIQUE)
type UniqueGuard struct {
	store.Key
	UserID string `dynamodbav:"userId"`
}

const RoleUser = "user"

// MaxAboutLength is the number of runes kept from an about text
const MaxAboutLength = 2000

// RegisterRequest represents registration request payload
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Name     string `json:"name" validate:"max=100"`
}

// RegisterResponse is returned with 201 on registration
type RegisterResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

// LoginRequest represents login request payload
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest lets non-browser clients present the refresh token in the body
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse represents authentication response
type AuthResponse struct {
	OK           bool   `json:"ok"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"` // seconds
}

// CSRFResponse carries a fresh double-submit token
type CSRFResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// UpdateAboutRequest is the body of PATCH /users/me/about
type UpdateAboutRequest struct {
	About string `json:"about"`
}
