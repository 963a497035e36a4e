package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"library-circulation/library"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(WithHashCost(bcrypt.MinCost))
}

func register(t *testing.T, s *Store, name string, role library.Role) {
	t.Helper()
	require.NoError(t, s.Register(Registration{
		Username: name,
		Password: "Secret#1",
		Email:    name + "@example.com",
		Role:     role,
	}))
}

func TestCheckPassword(t *testing.T) {
	tests := []struct {
		name string
		pw   string
		ok   bool
	}{
		{"valid", "Abcde#1", true},
		{"trimmed", "  Abcde#1  ", true},
		{"too short", "Ab#1", false},
		{"too long", "Abcdefghijk#1234", false},
		{"no upper", "abcde#1", false},
		{"no lower", "ABCDE#1", false},
		{"no digit", "Abcdef#", false},
		{"no special", "Abcdef1", false},
		{"unlisted special", "Abcde~1", false},
		{"empty", "   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPassword(tt.pw)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrWeakPassword)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	s := newStore(t)
	register(t, s, "alice", library.RoleUser)

	u, ok := s.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, library.RoleUser, u.Role)
	assert.False(t, u.LoggedIn)
	assert.Empty(t, u.PasswordHash)

	err := s.Register(Registration{Username: "alice", Password: "Secret#1", Email: "a2@example.com", Role: library.RoleUser})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	s := newStore(t)
	tests := []struct {
		name string
		reg  Registration
		want error
	}{
		{"bad email", Registration{"bob", "Secret#1", "not-an-email", library.RoleUser}, ErrInvalidInput},
		{"no username", Registration{"", "Secret#1", "b@example.com", library.RoleUser}, ErrInvalidInput},
		{"space in username", Registration{"bo b", "Secret#1", "b@example.com", library.RoleUser}, ErrInvalidInput},
		{"no role", Registration{"bob", "Secret#1", "b@example.com", 0}, ErrInvalidInput},
		{"weak password", Registration{"bob", "secret", "b@example.com", library.RoleUser}, ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.Register(tt.reg), tt.want)
		})
	}
	assert.Empty(t, s.List())
}

func TestLoginLogout(t *testing.T) {
	s := newStore(t)
	register(t, s, "alice", library.RoleUser)

	assert.ErrorIs(t, s.Login("alice", "Wrong#12"), ErrBadCredentials)
	assert.ErrorIs(t, s.Login("nobody", "Secret#1"), ErrBadCredentials)
	assert.False(t, s.IsLoggedIn("alice"))

	require.NoError(t, s.Login("alice", "Secret#1"))
	assert.True(t, s.IsLoggedIn("alice"))
	assert.ErrorIs(t, s.Login("alice", "Secret#1"), ErrAlreadyLoggedIn)

	require.NoError(t, s.Logout("alice"))
	assert.False(t, s.IsLoggedIn("alice"))
	assert.ErrorIs(t, s.Logout("alice"), ErrNotLoggedIn)
	assert.ErrorIs(t, s.Logout("nobody"), ErrUnknownUser)
}

func TestChangePasswordLogsOut(t *testing.T) {
	s := newStore(t)
	register(t, s, "alice", library.RoleUser)

	assert.ErrorIs(t, s.ChangePassword("alice", "Secret#1", "Newer#22"), ErrNotLoggedIn)

	require.NoError(t, s.Login("alice", "Secret#1"))
	assert.ErrorIs(t, s.ChangePassword("alice", "Wrong#12", "Newer#22"), ErrBadCredentials)
	assert.ErrorIs(t, s.ChangePassword("alice", "Secret#1", "weak"), ErrWeakPassword)
	assert.True(t, s.IsLoggedIn("alice"))

	require.NoError(t, s.ChangePassword("alice", "Secret#1", "Newer#22"))
	assert.False(t, s.IsLoggedIn("alice"))
	assert.ErrorIs(t, s.Login("alice", "Secret#1"), ErrBadCredentials)
	assert.NoError(t, s.Login("alice", "Newer#22"))
}

func TestUpdateUserRenamesAndLogsOut(t *testing.T) {
	s := newStore(t)
	register(t, s, "alice", library.RoleStaff)
	register(t, s, "bob", library.RoleUser)

	profile := Profile{Username: "alicia", Email: "alicia@example.com"}
	assert.ErrorIs(t, s.UpdateUser("alice", profile), ErrNotLoggedIn)
	assert.ErrorIs(t, s.UpdateUser("nobody", profile), ErrUnknownUser)

	require.NoError(t, s.Login("alice", "Secret#1"))
	assert.ErrorIs(t, s.UpdateUser("alice", Profile{Username: "bob", Email: "x@example.com"}), ErrUserExists)
	assert.ErrorIs(t, s.UpdateUser("alice", Profile{Username: "alicia", Email: "not-an-email"}), ErrInvalidInput)
	assert.ErrorIs(t, s.UpdateUser("alice", Profile{Username: "ali cia", Email: "a@example.com"}), ErrInvalidInput)
	assert.True(t, s.IsLoggedIn("alice"))

	require.NoError(t, s.UpdateUser("alice", Profile{Username: " alicia ", Email: "alicia@example.com"}))
	_, ok := s.Get("alice")
	assert.False(t, ok)
	u, ok := s.Get("alicia")
	require.True(t, ok)
	assert.Equal(t, "alicia@example.com", u.Email)
	assert.Equal(t, library.RoleStaff, u.Role)
	assert.False(t, u.LoggedIn)

	require.NoError(t, s.Login("alicia", "Secret#1"))
	require.NoError(t, s.UpdateUser("alicia", Profile{Username: "alicia", Email: "new@example.com"}))
	u, _ = s.Get("alicia")
	assert.Equal(t, "new@example.com", u.Email)
}

func TestDeleteAndList(t *testing.T) {
	s := newStore(t)
	register(t, s, "carol", library.RoleStaff)
	register(t, s, "alice", library.RoleUser)
	register(t, s, "bob", library.RoleAdmin)

	users := s.List()
	require.Len(t, users, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{users[0].Username, users[1].Username, users[2].Username})

	require.NoError(t, s.Delete("bob"))
	assert.ErrorIs(t, s.Delete("bob"), ErrUnknownUser)
	_, ok := s.FindByKey("bob")
	assert.False(t, ok)
	assert.Len(t, s.List(), 2)
}

func TestFindByKeyFeedsGate(t *testing.T) {
	s := newStore(t)
	register(t, s, "carol", library.RoleStaff)
	gate := library.NewIdentityGate(s)

	_, err := gate.Verify("carol")
	assert.ErrorIs(t, err, library.ErrAuthFailure)

	require.NoError(t, s.Login("carol", "Secret#1"))
	p, err := gate.Authorize("carol", library.RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, library.Principal{Key: "carol", Role: library.RoleStaff, LoggedIn: true}, p)

	_, err = gate.Authorize("carol", library.RoleAdmin)
	assert.ErrorIs(t, err, library.ErrInsufficientPrivilege)
}

func TestLoginFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewStore(WithHashCost(bcrypt.MinCost), WithLogger(zap.New(core)))
	register(t, s, "alice", library.RoleUser)

	_ = s.Login("alice", "Wrong#12")

	failed := logs.FilterMessage("login failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
	assert.Equal(t, "alice", failed[0].ContextMap()["username"])
}
