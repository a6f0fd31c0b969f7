package models

import "github.com/golang-jwt/jwt/v5"

// UserRole labels operators acting on enrollments.
type UserRole string

// Known roles.
const (
	RoleAdmin     UserRole = "ADMIN"
	RoleRegistrar UserRole = "REGISTRAR"
)

// JWTClaims represents the JWT payload for access tokens issued by the
// identity service fronting this API.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
