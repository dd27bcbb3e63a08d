// Package conversationid derives the canonical identifier of a guest/host
// conversation and parses it back into its two parties.
//
// An identifier is the guest identity, the separator "___" and the host identity,
// in that order. The same two people talking with swapped roles therefore own two
// distinct conversations. Identities are validated on the way in so that a
// separator inside an identity can never produce an identifier that parses back
// into different parties.
package conversationid

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	Separator = "___"

	// MaxIdentityLength matches the width of the identity columns in storage.
	MaxIdentityLength = 255
)

var (
	ErrInvalidIdentity       = errors.New("conversationid: invalid identity")
	ErrInvalidConversationID = errors.New("conversationid: invalid conversation id")
	ErrInvalidRole           = errors.New("conversationid: invalid role")
)

type Role string

const (
	RoleGuest Role = "guest"
	RoleHost  Role = "host"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleGuest:
		return RoleGuest, nil
	case RoleHost:
		return RoleHost, nil
	}
	return "", fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidRole, s, RoleGuest, RoleHost)
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleGuest {
		return RoleHost
	}
	return RoleGuest
}

// ValidateIdentity reports whether identity can take part in a conversation id.
func ValidateIdentity(identity string) error {
	switch {
	case strings.TrimSpace(identity) == "":
		return fmt.Errorf("%w: empty", ErrInvalidIdentity)
	case strings.TrimFunc(identity, unicode.IsSpace) != identity:
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidIdentity, identity)
	case strings.Contains(identity, Separator):
		return fmt.Errorf("%w: %q contains %q", ErrInvalidIdentity, identity, Separator)
	case strings.HasPrefix(identity, "_") || strings.HasSuffix(identity, "_"):
		// "g_" + "___" + "h" would split as "g" and "_h".
		return fmt.Errorf("%w: %q starts or ends with an underscore", ErrInvalidIdentity, identity)
	case len(identity) > MaxIdentityLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidIdentity, MaxIdentityLength)
	}
	return nil
}

// Parties are the two participants of a conversation.
type Parties struct {
	Guest string `json:"guestIdentity"`
	Host  string `json:"hostIdentity"`
}

// Has reports whether identity occupies role in the conversation.
func (p Parties) Has(identity string, role Role) bool {
	switch role {
	case RoleGuest:
		return p.Guest == identity
	case RoleHost:
		return p.Host == identity
	}
	return false
}

// RoleOf returns the role identity plays. A guest who is also the host is reported as guest.
func (p Parties) RoleOf(identity string) (Role, bool) {
	switch identity {
	case p.Guest:
		return RoleGuest, true
	case p.Host:
		return RoleHost, true
	}
	return "", false
}

// Counterpart returns the identity on the other side of role.
func (p Parties) Counterpart(role Role) string {
	if role == RoleGuest {
		return p.Host
	}
	return p.Guest
}

func (p Parties) ID() string {
	return p.Guest + Separator + p.Host
}

// MakeID returns the conversation id of guest and host.
func MakeID(guest, host string) (string, error) {
	if err := ValidateIdentity(guest); err != nil {
		return "", fmt.Errorf("guest: %w", err)
	}
	if err := ValidateIdentity(host); err != nil {
		return "", fmt.Errorf("host: %w", err)
	}
	return Parties{Guest: guest, Host: host}.ID(), nil
}

// ParseID splits id into its parties. It is the exact inverse of MakeID.
func ParseID(id string) (Parties, error) {
	guest, host, ok := strings.Cut(id, Separator)
	if !ok {
		return Parties{}, fmt.Errorf("%w: %q has no separator", ErrInvalidConversationID, id)
	}
	if ValidateIdentity(guest) != nil || ValidateIdentity(host) != nil {
		return Parties{}, fmt.Errorf("%w: %q", ErrInvalidConversationID, id)
	}
	return Parties{Guest: guest, Host: host}, nil
}
