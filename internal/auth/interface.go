package auth

import "github.com/harborapp/harbor/internal/models"

// AuthServiceInterface defines the contract for authentication operations.
// This enables mocking for unit tests without requiring a real database.
type AuthServiceInterface interface {
	// Registration and Login
	RegisterUser(req RegisterRequest) (*AuthResponse, error)
	LoginUser(req LoginRequest) (*AuthResponse, error)

	// User lookup
	FindUserByEmail(email string) (*models.User, error)

	// Token operations
	ValidateToken(tokenString string) (*models.User, error)
	GenerateTokenForUser(user *models.User) (*AuthResponse, error)

	// Password reset
	RequestPasswordReset(email string) (*models.PasswordReset, error)
	ResetPassword(token, newPassword string) error
}

// Ensure Service implements AuthServiceInterface
var _ AuthServiceInterface = (*Service)(nil)

// SocketValidator adapts the auth service for the WebSocket upgrade
// path, which only needs the authenticated user ID.
type SocketValidator struct {
	Service AuthServiceInterface
}

func (v SocketValidator) ValidateToken(token string) (string, error) {
	user, err := v.Service.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}
