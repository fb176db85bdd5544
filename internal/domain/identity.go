package domain

// IdentityKind tags the Identity variant.
type IdentityKind int

const (
	IdentityAnonymous IdentityKind = iota
	IdentityAuthenticated
)

// AnonymousID is the owner id used for conversations of unauthenticated connections.
const AnonymousID = "anonymous"

// Identity is the principal bound to a connection or request.
// The zero value is the anonymous identity.
type Identity struct {
	kind     IdentityKind
	id       string
	username string
	role     AccountRole
}

// Anonymous returns the anonymous identity.
func Anonymous() Identity {
	return Identity{kind: IdentityAnonymous}
}

// Authenticated returns an identity for a verified account.
func Authenticated(id, username string, role AccountRole) Identity {
	return Identity{
		kind:     IdentityAuthenticated,
		id:       id,
		username: username,
		role:     role,
	}
}

// Kind reports which variant the identity is.
func (i Identity) Kind() IdentityKind {
	return i.kind
}

// IsAnonymous reports whether the identity is the anonymous variant.
func (i Identity) IsAnonymous() bool {
	return i.kind == IdentityAnonymous
}

// ID returns the owner id used for conversation storage.
func (i Identity) ID() string {
	switch i.kind {
	case IdentityAuthenticated:
		return i.id
	default:
		return AnonymousID
	}
}

// Username returns the account username, empty for anonymous identities.
func (i Identity) Username() string {
	if i.kind == IdentityAuthenticated {
		return i.username
	}
	return ""
}

// Role returns the account role, empty for anonymous identities.
func (i Identity) Role() AccountRole {
	if i.kind == IdentityAuthenticated {
		return i.role
	}
	return ""
}

// String implements fmt.Stringer for logging.
func (i Identity) String() string {
	if i.kind == IdentityAuthenticated {
		return i.id + "(" + string(i.role) + ")"
	}
	return AnonymousID
}
