// Package identity keeps the registered users of a library instance and
// their credentials. It is the identity store the library's IdentityGate
// reads from.
package identity

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"library-circulation/library"
)

var (
	ErrUserExists      = errors.New("username already exists")
	ErrUnknownUser     = errors.New("user not found")
	ErrBadCredentials  = errors.New("invalid username or password")
	ErrAlreadyLoggedIn = errors.New("user is already logged in")
	ErrNotLoggedIn     = errors.New("user is not logged in")
	ErrWeakPassword    = errors.New("password does not meet complexity rules")
	ErrInvalidInput    = errors.New("invalid registration input")
)

// User is a registered identity. PasswordHash never leaves the package in
// the copies returned by Get and List.
type User struct {
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	Role         library.Role `json:"role"`
	LoggedIn     bool         `json:"logged_in"`
	RegisteredAt time.Time    `json:"registered_at"`
	PasswordHash string       `json:"-"`
}

// Registration is the input of Register.
type Registration struct {
	Username string       `validate:"required,min=3,max=32"`
	Password string       `validate:"required"`
	Email    string       `validate:"required,email,max=200"`
	Role     library.Role `validate:"gte=1,lte=3"`
}

// Profile is the input of UpdateUser.
type Profile struct {
	Username string `validate:"required,min=3,max=32"`
	Email    string `validate:"required,email,max=200"`
}

// Store is an in-memory user table safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*User
	log      *zap.Logger
	cost     int
	validate *validator.Validate
}

var _ library.IdentityStore = (*Store)(nil)

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHashCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		users:    make(map[string]*User),
		log:      zap.NewNop(),
		cost:     defaultBcryptCost,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a user. Usernames are case sensitive and may not contain
// whitespace.
func (s *Store) Register(r Registration) error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)

	if err := s.check(r, r.Username); err != nil {
		s.log.Warn("registration rejected", zap.String("username", r.Username), zap.Error(err))
		return err
	}
	if err := CheckPassword(r.Password); err != nil {
		s.log.Warn("registration rejected", zap.String("username", r.Username), zap.Error(err))
		return err
	}
	hash, err := hashPassword(r.Password, s.cost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[r.Username]; ok {
		s.log.Warn("registration rejected", zap.String("username", r.Username), zap.Error(ErrUserExists))
		return fmt.Errorf("%w: %s", ErrUserExists, r.Username)
	}
	s.users[r.Username] = &User{
		Username:     r.Username,
		Email:        r.Email,
		Role:         r.Role,
		RegisteredAt: time.Now(),
		PasswordHash: hash,
	}
	s.log.Info("user registered", zap.String("username", r.Username), zap.Stringer("role", r.Role))
	return nil
}

// Login marks the user logged in. A second login without a logout fails.
func (s *Store) Login(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok || !verifyPassword(u.PasswordHash, password) {
		s.log.Warn("login failed", zap.String("username", username))
		return ErrBadCredentials
	}
	if u.LoggedIn {
		s.log.Warn("login failed", zap.String("username", username), zap.Error(ErrAlreadyLoggedIn))
		return ErrAlreadyLoggedIn
	}
	u.LoggedIn = true
	s.log.Info("user logged in", zap.String("username", username))
	return nil
}

func (s *Store) Logout(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return ErrUnknownUser
	}
	if !u.LoggedIn {
		return ErrNotLoggedIn
	}
	u.LoggedIn = false
	s.log.Info("user logged out", zap.String("username", username))
	return nil
}

// ChangePassword replaces the password of a logged-in user after checking
// the current one. The user is logged out afterwards.
func (s *Store) ChangePassword(username, current, next string) error {
	if err := CheckPassword(next); err != nil {
		return err
	}
	hash, err := hashPassword(next, s.cost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUnknownUser
	}
	if !u.LoggedIn {
		return ErrNotLoggedIn
	}
	if !verifyPassword(u.PasswordHash, current) {
		s.log.Warn("password change failed", zap.String("username", username))
		return ErrBadCredentials
	}
	u.PasswordHash = hash
	u.LoggedIn = false
	s.log.Info("password changed", zap.String("username", username))
	return nil
}

// UpdateUser renames a logged-in user and replaces their email. The new
// username must be free. The user is logged out afterwards.
func (s *Store) UpdateUser(username string, p Profile) error {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.TrimSpace(p.Email)
	if err := s.check(p, p.Username); err != nil {
		s.log.Warn("profile update rejected", zap.String("username", username), zap.Error(err))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUnknownUser
	}
	if !u.LoggedIn {
		return ErrNotLoggedIn
	}
	if p.Username != username {
		if _, taken := s.users[p.Username]; taken {
			s.log.Warn("profile update rejected", zap.String("username", username), zap.Error(ErrUserExists))
			return fmt.Errorf("%w: %s", ErrUserExists, p.Username)
		}
		delete(s.users, username)
		s.users[p.Username] = u
	}
	u.Username = p.Username
	u.Email = p.Email
	u.LoggedIn = false
	s.log.Info("profile updated", zap.String("username", username), zap.String("new_username", p.Username))
	return nil
}

// Delete removes a user. Cards and loans are the caller's concern.
func (s *Store) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return ErrUnknownUser
	}
	delete(s.users, username)
	s.log.Info("user deleted", zap.String("username", username))
	return nil
}

func (s *Store) Get(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return User{}, false
	}
	out := *u
	out.PasswordHash = ""
	return out, true
}

// List returns every user ordered by username.
func (s *Store) List() []User {
	s.mu.RLock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		cp.PasswordHash = ""
		out = append(out, cp)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b User) int { return strings.Compare(a.Username, b.Username) })
	return out
}

// check validates v and the username rules shared by Register and
// UpdateUser. Only the first failing field is reported.
func (s *Store) check(v any, username string) error {
	if err := s.validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalidInput, strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	if strings.ContainsFunc(username, unicode.IsSpace) {
		return fmt.Errorf("%w: username may not contain spaces", ErrInvalidInput)
	}
	return nil
}

// FindByKey implements library.IdentityStore.
func (s *Store) FindByKey(key string) (library.Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[key]
	if !ok {
		return library.Principal{}, false
	}
	return library.Principal{Key: u.Username, Role: u.Role, LoggedIn: u.LoggedIn}, true
}

// IsLoggedIn implements library.IdentityStore.
func (s *Store) IsLoggedIn(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[key]
	return ok && u.LoggedIn
}
