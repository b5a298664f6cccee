package authapi

import (
	"time"

	"traq/cmd/identity"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Blocked     bool       `json:"blocked"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// sessionEnvelope is the body of every response that set session cookies.
// User is present on register/login; a refresh carries only the expiries.
type sessionEnvelope struct {
	User             *userResponse `json:"user,omitempty"`
	AccessExpiresAt  time.Time     `json:"access_expires_at"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type csrfResponse struct {
	Token     string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Role:        string(u.Role),
		Blocked:     u.Blocked,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}
