package authpw

import (
	"context"
	"strings"
	"testing"

	"edms/api/internal/store"
)

// mockUserStore is an in-memory UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string // email -> userID
	orgs       map[string]store.Organization // name -> org
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
		orgs:       make(map[string]store.Organization),
	}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[strings.ToLower(email)]; ok {
		return m.users[userID], nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) InsertUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) GetOrganizationByName(_ context.Context, name string) (store.Organization, error) {
	if org, ok := m.orgs[name]; ok {
		return org, nil
	}
	return store.Organization{}, store.ErrNotFound
}

func (m *mockUserStore) InsertOrganization(_ context.Context, org store.Organization) error {
	m.orgs[org.Name] = org
	return nil
}

func (m *mockUserStore) CountOrgUsers(_ context.Context, orgID string) (int, error) {
	count := 0
	for _, user := range m.users {
		if user.OrgID == orgID {
			count++
		}
	}
	return count, nil
}

func TestSignUpFirstUserCreatesOrgAndBecomesAdmin(t *testing.T) {
	svc := NewService(newMockUserStore())

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:      "Dana@Acme.com",
		Password:   "correct-horse",
		Name:       "Dana",
		Department: "Quality",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if !resp.OrgCreated {
		t.Fatal("expected a new organization for a new domain")
	}
	if resp.User.Role != store.RoleAdmin {
		t.Fatalf("first user role = %q, want admin", resp.User.Role)
	}
	if resp.User.Email != "dana@acme.com" {
		t.Fatalf("email not lowercased: %q", resp.User.Email)
	}
	if resp.User.OrgID == "" || len(resp.User.Orgs) != 1 {
		t.Fatalf("user not scoped to the new org: %+v", resp.User)
	}
}

func TestSignUpSecondUserJoinsExistingOrgAsUser(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)

	first, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "dana@acme.com", Password: "correct-horse", Name: "Dana",
	})
	if err != nil {
		t.Fatalf("SignUp() first user error = %v", err)
	}
	second, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "lee@acme.com", Password: "correct-horse", Name: "Lee",
	})
	if err != nil {
		t.Fatalf("SignUp() second user error = %v", err)
	}
	if second.OrgCreated {
		t.Fatal("second signup must reuse the existing org")
	}
	if second.User.OrgID != first.User.OrgID {
		t.Fatal("same domain must land in the same org")
	}
	if second.User.Role != store.RoleUser {
		t.Fatalf("second user role = %q, want user", second.User.Role)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(newMockUserStore())

	if _, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "dana@acme.com", Password: "correct-horse", Name: "Dana",
	}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if _, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "dana@acme.com", Password: "correct-horse", Name: "Dana Again",
	}); err == nil {
		t.Fatal("expected duplicate email to be rejected")
	}
}

func TestSignUpValidatesPasswordLength(t *testing.T) {
	svc := NewService(newMockUserStore())

	if _, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "dana@acme.com", Password: "short", Name: "Dana",
	}); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestSignInVerifiesPasswordAndActiveFlag(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "dana@acme.com", Password: "correct-horse", Name: "Dana",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	user, err := svc.SignIn(context.Background(), SignInRequest{Email: "DANA@acme.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if user.ID != resp.User.ID {
		t.Fatalf("signed in as %q, want %q", user.ID, resp.User.ID)
	}

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "dana@acme.com", Password: "wrong-password"}); err == nil {
		t.Fatal("expected wrong password to be rejected")
	}

	deactivated := resp.User
	deactivated.IsActive = false
	mock.users[deactivated.ID] = deactivated
	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "dana@acme.com", Password: "correct-horse"}); err == nil {
		t.Fatal("expected deactivated account to be rejected")
	}
}

func TestEmailDomain(t *testing.T) {
	cases := map[string]string{
		"dana@acme.com": "acme.com",
		"dana@ACME.com": "acme.com",
		"no-at-sign":    "",
		"@acme.com":     "",
		"dana@":         "",
	}
	for email, want := range cases {
		if got := emailDomain(email); got != want {
			t.Fatalf("emailDomain(%q) = %q, want %q", email, got, want)
		}
	}
}
