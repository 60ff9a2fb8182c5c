package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	CompanyID string   `json:"company_id,omitempty"`
	Email     string   `json:"email"`
	jwt.RegisteredClaims
}

// TokenResponse is returned when a development token is issued.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
