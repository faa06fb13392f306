package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harborapp/harbor/internal/models"
)

// MockCall records a method call for assertion
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockAuthService is a mock implementation of AuthServiceInterface for testing.
type MockAuthService struct {
	mu sync.Mutex

	// Call tracking
	Calls []MockCall

	// Configurable function overrides
	RegisterUserFunc         func(req RegisterRequest) (*AuthResponse, error)
	LoginUserFunc            func(req LoginRequest) (*AuthResponse, error)
	FindUserByEmailFunc      func(email string) (*models.User, error)
	ValidateTokenFunc        func(tokenString string) (*models.User, error)
	GenerateTokenForUserFunc func(user *models.User) (*AuthResponse, error)
	RequestPasswordResetFunc func(email string) (*models.PasswordReset, error)
	ResetPasswordFunc        func(token, newPassword string) error

	// Default error to return
	DefaultError error

	// Pre-configured users for testing, keyed by email
	Users map[string]*models.User
}

// NewMockAuthService creates a new mock auth service with sensible defaults
func NewMockAuthService() *MockAuthService {
	return &MockAuthService{
		Calls: make([]MockCall, 0),
		Users: make(map[string]*models.User),
	}
}

// recordCall records a method call for later assertion
func (m *MockAuthService) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// GetCallsForMethod returns calls for a specific method
func (m *MockAuthService) GetCallsForMethod(method string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []MockCall
	for _, call := range m.Calls {
		if call.Method == method {
			result = append(result, call)
		}
	}
	return result
}

// Reset clears all recorded calls
func (m *MockAuthService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = m.Calls[:0]
}

func (m *MockAuthService) RegisterUser(req RegisterRequest) (*AuthResponse, error) {
	m.recordCall("RegisterUser", req)
	if m.RegisterUserFunc != nil {
		return m.RegisterUserFunc(req)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	user := &models.User{
		ID:          uuid.New().String(),
		Email:       req.Email,
		Username:    req.Username,
		DisplayName: req.DisplayName,
	}
	m.mu.Lock()
	m.Users[req.Email] = user
	m.mu.Unlock()

	return &AuthResponse{
		Token:     "mock-token-" + user.ID,
		User:      *user,
		ExpiresAt: time.Now().Add(tokenLifetime),
	}, nil
}

func (m *MockAuthService) LoginUser(req LoginRequest) (*AuthResponse, error) {
	m.recordCall("LoginUser", req)
	if m.LoginUserFunc != nil {
		return m.LoginUserFunc(req)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	m.mu.Lock()
	user, ok := m.Users[req.Email]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUserNotFound
	}

	return &AuthResponse{
		Token:     "mock-token-" + user.ID,
		User:      *user,
		ExpiresAt: time.Now().Add(tokenLifetime),
	}, nil
}

func (m *MockAuthService) FindUserByEmail(email string) (*models.User, error) {
	m.recordCall("FindUserByEmail", email)
	if m.FindUserByEmailFunc != nil {
		return m.FindUserByEmailFunc(email)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	m.mu.Lock()
	user, ok := m.Users[email]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (m *MockAuthService) ValidateToken(tokenString string) (*models.User, error) {
	m.recordCall("ValidateToken", tokenString)
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(tokenString)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	// Mock tokens look like "mock-token-<user-id>"
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.Users {
		if tokenString == "mock-token-"+user.ID {
			return user, nil
		}
	}
	return nil, ErrInvalidCredentials
}

func (m *MockAuthService) GenerateTokenForUser(user *models.User) (*AuthResponse, error) {
	m.recordCall("GenerateTokenForUser", user)
	if m.GenerateTokenForUserFunc != nil {
		return m.GenerateTokenForUserFunc(user)
	}
	return &AuthResponse{
		Token:     "mock-token-" + user.ID,
		User:      *user,
		ExpiresAt: time.Now().Add(tokenLifetime),
	}, nil
}

func (m *MockAuthService) RequestPasswordReset(email string) (*models.PasswordReset, error) {
	m.recordCall("RequestPasswordReset", email)
	if m.RequestPasswordResetFunc != nil {
		return m.RequestPasswordResetFunc(email)
	}
	return nil, m.DefaultError
}

func (m *MockAuthService) ResetPassword(token, newPassword string) error {
	m.recordCall("ResetPassword", token, newPassword)
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(token, newPassword)
	}
	return m.DefaultError
}

var _ AuthServiceInterface = (*MockAuthService)(nil)
