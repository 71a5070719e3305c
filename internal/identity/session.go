package identity

// Session is one authenticated identity as held by a single identity client.
// It is plain data: every holder keeps its own copy.
type Session struct {
	UID           string `json:"uid" firestore:"uid"`
	Email         string `json:"email" firestore:"email"`
	DisplayName   string `json:"displayName" firestore:"display_name"`
	PhotoURL      string `json:"photoURL" firestore:"photo_url"`
	EmailVerified bool   `json:"emailVerified" firestore:"email_verified"`
}

// State is a settled observation of an identity client. Session is nil when
// signed out.
type State struct {
	Session *Session
}

// SignedIn reports whether the state carries a session.
func (s State) SignedIn() bool {
	return s.Session != nil
}

// UID returns the session uid, or "" when signed out.
func (s State) UID() string {
	return UIDOf(s.Session)
}

// UIDOf returns the uid of s, or "" for a nil session.
func UIDOf(s *Session) string {
	if s == nil {
		return ""
	}
	return s.UID
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
