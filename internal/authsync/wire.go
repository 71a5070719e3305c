package authsync

import (
	"encoding/json"
	"fmt"

	"github.com/dgellow/bxm/internal/identity"
)

// Message is the JSON shape of every request and broadcast on the channel
type Message struct {
	Command    string  `json:"command"`
	ContextUID *string `json:"contextUid,omitempty"`
	Token      string  `json:"token,omitempty"`
}

// MarshalJSON always writes contextUid for sync requests, as null when the
// Context is signed out.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	if m.Command != CommandSyncAuth {
		return json.Marshal(alias(m))
	}
	return json.Marshal(struct {
		alias
		ContextUID *string `json:"contextUid"`
	}{alias(m), m.ContextUID})
}

// SyncResponse is the JSON reply to a sync request
type SyncResponse struct {
	NeedsSync   bool              `json:"needsSync"`
	SignOut     bool              `json:"signOut,omitempty"`
	CustomToken string            `json:"customToken,omitempty"`
	User        *identity.Session `json:"user,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// EncodeRequest converts a request to its wire form
func EncodeRequest(r Request) Message {
	switch r := r.(type) {
	case SyncAuthRequest:
		m := Message{Command: CommandSyncAuth}
		if r.ContextUID != "" {
			uid := r.ContextUID
			m.ContextUID = &uid
		}
		return m
	case SignOutRequest:
		return Message{Command: CommandSignOut}
	case TokenSignInRequest:
		return Message{Command: CommandSignInWithToken, Token: r.Token}
	default:
		return Message{}
	}
}

// DecodeRequest converts a wire message to a request
func DecodeRequest(m Message) (Request, error) {
	switch m.Command {
	case CommandSyncAuth:
		req := SyncAuthRequest{}
		if m.ContextUID != nil {
			req.ContextUID = *m.ContextUID
		}
		return req, nil
	case CommandSignOut:
		return SignOutRequest{}, nil
	case CommandSignInWithToken:
		if m.Token == "" {
			return nil, fmt.Errorf("%s requires a token", m.Command)
		}
		return TokenSignInRequest{Token: m.Token}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, m.Command)
	}
}

// EncodeBroadcast converts a broadcast to its wire form
func EncodeBroadcast(b Broadcast) Message {
	switch b := b.(type) {
	case SignOutNotice:
		return Message{Command: CommandSignOut}
	case SignInNotice:
		return Message{Command: CommandSignInWithToken, Token: b.Token}
	default:
		return Message{}
	}
}

// DecodeBroadcast converts a wire message to a broadcast
func DecodeBroadcast(m Message) (Broadcast, error) {
	switch m.Command {
	case CommandSignOut:
		return SignOutNotice{}, nil
	case CommandSignInWithToken:
		if m.Token == "" {
			return nil, fmt.Errorf("%s requires a token", m.Command)
		}
		return SignInNotice{Token: m.Token}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, m.Command)
	}
}

// EncodeDirective converts a directive to its wire reply
func EncodeDirective(d Directive) SyncResponse {
	switch d := d.(type) {
	case InSync:
		return SyncResponse{NeedsSync: false}
	case SignOutRequired:
		return SyncResponse{NeedsSync: true, SignOut: true}
	case CredentialOffer:
		user := d.User
		return SyncResponse{NeedsSync: true, CustomToken: d.Token, User: &user}
	case NotSynced:
		return SyncResponse{NeedsSync: false, Error: d.Reason}
	default:
		return SyncResponse{NeedsSync: false, Error: "unknown directive"}
	}
}

// DecodeDirective converts a wire reply to a directive
func DecodeDirective(r SyncResponse) Directive {
	switch {
	case r.Error != "":
		return NotSynced{Reason: r.Error}
	case !r.NeedsSync:
		return InSync{}
	case r.SignOut:
		return SignOutRequired{}
	case r.CustomToken != "":
		offer := CredentialOffer{Token: r.CustomToken}
		if r.User != nil {
			offer.User = *r.User
		}
		return offer
	default:
		return NotSynced{Reason: "sync response carried no action"}
	}
}
