// Package authpw provides email/password authentication with tenant
// bootstrap from the email domain.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"edms/api/internal/store"
	"edms/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

// Service provides email/password authentication
type Service struct {
	store UserStore
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	InsertUser(ctx context.Context, user store.User) error
	GetOrganizationByName(ctx context.Context, name string) (store.Organization, error)
	InsertOrganization(ctx context.Context, org store.Organization) error
	CountOrgUsers(ctx context.Context, orgID string) (int, error)
}

// NewService creates a new auth service
func NewService(userStore UserStore) *Service {
	return &Service{store: userStore}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email      string
	Password   string
	Name       string
	Department string
}

// SignUpResponse contains sign-up result
type SignUpResponse struct {
	User       store.User
	OrgCreated bool
}

// SignUp creates a new user account. The organization is derived from the
// email domain: the first user of a new domain creates the org and becomes
// its admin, everyone after that joins as a regular user.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	// Validate input
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return nil, errors.New("email, password, and name are required")
	}

	if len(req.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	domain := emailDomain(req.Email)
	if domain == "" {
		return nil, errors.New("invalid email address")
	}

	// Check if email already exists
	_, err := s.store.GetUserByEmail(ctx, req.Email)
	if err == nil {
		return nil, errors.New("email already registered")
	}

	// Hash password
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	org, orgCreated, err := s.ensureOrganization(ctx, domain)
	if err != nil {
		return nil, err
	}

	role := store.RoleUser
	count, err := s.store.CountOrgUsers(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("count org users: %w", err)
	}
	if count == 0 {
		role = store.RoleAdmin
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Email:        strings.ToLower(req.Email),
		Name:         req.Name,
		PasswordHash: string(hash),
		Role:         role,
		Department:   req.Department,
		OrgID:        org.ID,
		Orgs:         []string{org.ID},
		IsActive:     true,
	}

	if err := s.store.InsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &SignUpResponse{User: user, OrgCreated: orgCreated}, nil
}

func (s *Service) ensureOrganization(ctx context.Context, domain string) (store.Organization, bool, error) {
	org, err := s.store.GetOrganizationByName(ctx, domain)
	if err == nil {
		return org, false, nil
	}
	if !store.IsNotFound(err) {
		return store.Organization{}, false, fmt.Errorf("lookup organization: %w", err)
	}

	org = store.Organization{
		ID:             util.NewID("org"),
		Name:           domain,
		Departments:    []string{},
		RetentionYears: 7,
	}
	if err := s.store.InsertOrganization(ctx, org); err != nil {
		return store.Organization{}, false, fmt.Errorf("create organization: %w", err)
	}
	return org, true, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a user
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" {
		return store.User{}, errors.New("email and password are required")
	}

	// Look up user by email
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(req.Email))
	if err != nil {
		return store.User{}, errors.New("invalid email or password")
	}

	if !user.IsActive {
		return store.User{}, errors.New("account is deactivated")
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, errors.New("invalid email or password")
	}

	return user, nil
}

// HashPassword hashes a password for storage
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
