package library

// IdentityStore is the lookup side of the identity subsystem.
type IdentityStore interface {
	FindByKey(key string) (Principal, bool)
	IsLoggedIn(key string) bool
}

// IdentityGate decides whether an actor may act and with what privilege.
// It only reads from the store.
type IdentityGate struct {
	store IdentityStore
}

func NewIdentityGate(store IdentityStore) *IdentityGate {
	return &IdentityGate{store: store}
}

// Verify resolves key to a logged-in principal.
func (g *IdentityGate) Verify(key string) (Principal, error) {
	p, ok := g.store.FindByKey(key)
	if !ok {
		return Principal{}, fail(ReasonAuthFailure, "user %q does not exist", key)
	}
	if !g.store.IsLoggedIn(key) {
		return Principal{}, fail(ReasonAuthFailure, "user %q is not logged in", key)
	}
	p.LoggedIn = true
	return p, nil
}

// RequireRole checks p against the ordering USER < STAFF < ADMIN.
func (g *IdentityGate) RequireRole(p Principal, min Role) error {
	if p.Role < min {
		return fail(ReasonInsufficientPrivilege, "user %q is %s, %s required", p.Key, p.Role, min)
	}
	return nil
}

// Authorize is Verify followed by RequireRole.
func (g *IdentityGate) Authorize(key string, min Role) (Principal, error) {
	p, err := g.Verify(key)
	if err != nil {
		return Principal{}, err
	}
	if err := g.RequireRole(p, min); err != nil {
		return Principal{}, err
	}
	return p, nil
}
