// Package session tracks which cart identity the client speaks as: an
// authenticated user (bearer token) or an anonymous guest cart (session id).
package session

type Kind int

const (
	KindNone Kind = iota
	KindGuest
	KindAuthenticated
)

func (k Kind) String() string {
	switch k {
	case KindGuest:
		return "guest"
	case KindAuthenticated:
		return "authenticated"
	default:
		return "none"
	}
}

// Identity is the pair of persisted credentials. Both fields are set only
// while a guest cart waits to be merged into a freshly logged-in user.
type Identity struct {
	Token     string
	SessionID string
}

func Guest(sessionID string) Identity {
	return Identity{SessionID: sessionID}
}

func Authenticated(token string) Identity {
	return Identity{Token: token}
}

// Kind reports the active identity. A token always wins over a session id.
func (i Identity) Kind() Kind {
	switch {
	case i.Token != "":
		return KindAuthenticated
	case i.SessionID != "":
		return KindGuest
	default:
		return KindNone
	}
}

func (i Identity) IsAuthenticated() bool { return i.Kind() == KindAuthenticated }

func (i Identity) IsGuest() bool { return i.Kind() == KindGuest }

// Merging reports whether both credentials are present.
func (i Identity) Merging() bool { return i.Token != "" && i.SessionID != "" }

// Key identifies the cart the identity addresses, for request sequencing.
func (i Identity) Key() string {
	switch i.Kind() {
	case KindAuthenticated:
		return "user:" + i.Token
	case KindGuest:
		return "guest:" + i.SessionID
	default:
		return ""
	}
}

// Transition describes one identity change. Seq increases by one per change.
type Transition struct {
	Seq  uint64
	From Identity
	To   Identity
}

// LoggedIn reports a change from no token to a token.
func (t Transition) LoggedIn() bool {
	return t.From.Token == "" && t.To.Token != ""
}

// LoggedOut reports a change from a token to none.
func (t Transition) LoggedOut() bool {
	return t.From.Token != "" && t.To.Token == ""
}
