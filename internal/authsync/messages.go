// Package authsync defines the closed message set exchanged between the
// Authority and its Contexts.
//
// Each direction is its own sealed interface: Request (Context to Authority),
// Broadcast (Authority to every Context) and Directive (the Authority's answer
// to a sync request). The marker methods are unexported, so a type switch over
// the variants below is exhaustive.
package authsync

import (
	"errors"

	"github.com/dgellow/bxm/internal/identity"
)

// Wire commands
const (
	CommandSyncAuth        = "bxm:syncAuth"
	CommandSignOut         = "bxm:signOut"
	CommandSignInWithToken = "bxm:signInWithToken"
)

// ErrUnknownCommand is returned when a message carries a command outside the set
var ErrUnknownCommand = errors.New("unknown command")

// Request is a message from a Context to the Authority
type Request interface {
	Command() string
	isRequest()
}

// SyncAuthRequest asks the Authority to compare its session with the
// Context's. ContextUID is "" when the Context is signed out.
type SyncAuthRequest struct {
	ContextUID string
}

// SignOutRequest tells the Authority that a Context signed out locally
type SignOutRequest struct{}

// TokenSignInRequest hands the Authority a custom token obtained from the
// website's token page.
type TokenSignInRequest struct {
	Token string
}

func (SyncAuthRequest) Command() string    { return CommandSyncAuth }
func (SignOutRequest) Command() string     { return CommandSignOut }
func (TokenSignInRequest) Command() string { return CommandSignInWithToken }

func (SyncAuthRequest) isRequest()    {}
func (SignOutRequest) isRequest()     {}
func (TokenSignInRequest) isRequest() {}

// Broadcast is a fire-and-forget notice pushed to every open Context
type Broadcast interface {
	Command() string
	isBroadcast()
}

// SignOutNotice tells Contexts the Authority signed out
type SignOutNotice struct{}

// SignInNotice carries a credential Contexts can use to sign in
type SignInNotice struct {
	Token string
}

func (SignOutNotice) Command() string { return CommandSignOut }
func (SignInNotice) Command() string  { return CommandSignInWithToken }

func (SignOutNotice) isBroadcast() {}
func (SignInNotice) isBroadcast()  {}

// Directive is the Authority's answer to a SyncAuthRequest
type Directive interface {
	isDirective()
}

// InSync means the Context already matches the Authority
type InSync struct{}

// SignOutRequired means the Context must drop its session
type SignOutRequired struct{}

// CredentialOffer carries a fresh short-lived credential and a plain summary
// of the Authority's session.
type CredentialOffer struct {
	Token string
	User  identity.Session
}

// NotSynced means the Authority could not complete the comparison
type NotSynced struct {
	Reason string
}

func (InSync) isDirective()          {}
func (SignOutRequired) isDirective() {}
func (CredentialOffer) isDirective() {}
func (NotSynced) isDirective()       {}

// DirectiveName returns a stable label for d, used in logs and metrics
func DirectiveName(d Directive) string {
	switch d.(type) {
	case InSync:
		return "in_sync"
	case SignOutRequired:
		return "sign_out_required"
	case CredentialOffer:
		return "credential_offer"
	case NotSynced:
		return "not_synced"
	default:
		return "unknown"
	}
}
