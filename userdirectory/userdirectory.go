// Package userdirectory resolves identities to display metadata. Identities
// without an entry get a generated placeholder, so a lookup never fails.
package userdirectory

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/medstay/inbox/conversationid"
	"gopkg.in/yaml.v3"
)

// InitialsAvatarPrefix marks an avatar that clients render as initials.
const InitialsAvatarPrefix = "initials:"

type User struct {
	Identity    string              `yaml:"identity" json:"identity"`
	Name        string              `yaml:"name" json:"name"`
	Avatar      string              `yaml:"avatar" json:"avatar"`
	Role        conversationid.Role `yaml:"role" json:"role,omitempty"`
	Placeholder bool                `yaml:"-" json:"placeholder"`
}

type Directory interface {
	Lookup(identity string) User
}

type static struct {
	users map[string]User
}

// NewStatic builds a directory from users. Entries without a name or avatar
// get the generated ones.
func NewStatic(users ...User) Directory {
	d := &static{users: make(map[string]User, len(users))}
	for _, u := range users {
		ph := Placeholder(u.Identity)
		if u.Name == "" {
			u.Name = ph.Name
		}
		if u.Avatar == "" {
			u.Avatar = InitialsAvatarPrefix + Initials(u.Name)
		}
		d.users[u.Identity] = u
	}
	return d
}

func (d *static) Lookup(identity string) User {
	if u, ok := d.users[identity]; ok {
		return u
	}
	return Placeholder(identity)
}

type file struct {
	Users []User `yaml:"users"`
}

// LoadFile reads a YAML document of the form
//
//	users:
//	  - identity: host@stays.example
//	    name: Dana Host
//	    avatar: https://...
//	    role: host
func LoadFile(path string) (Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("userdirectory: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("userdirectory: parse %s: %w", path, err)
	}
	for i, u := range f.Users {
		if err := conversationid.ValidateIdentity(u.Identity); err != nil {
			return nil, fmt.Errorf("userdirectory: entry %d: %w", i, err)
		}
		if u.Role != "" {
			role, err := conversationid.ParseRole(string(u.Role))
			if err != nil {
				return nil, fmt.Errorf("userdirectory: entry %d: %w", i, err)
			}
			f.Users[i].Role = role
		}
	}
	return NewStatic(f.Users...), nil
}

// Placeholder derives display metadata from the identity alone:
// "nurse.ana@hospital.org" becomes "Nurse Ana" with avatar "initials:NA".
func Placeholder(identity string) User {
	local, _, _ := strings.Cut(identity, "@")
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+' || unicode.IsSpace(r)
	})
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	name := strings.Join(words, " ")
	if name == "" {
		name = identity
	}
	return User{
		Identity:    identity,
		Name:        name,
		Avatar:      InitialsAvatarPrefix + Initials(name),
		Placeholder: true,
	}
}

// Initials returns up to two uppercase initials of name.
func Initials(name string) string {
	var out []rune
	for _, w := range strings.Fields(name) {
		r := []rune(w)[0]
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		out = append(out, unicode.ToUpper(r))
		if len(out) == 2 {
			break
		}
	}
	if len(out) == 0 {
		return "?"
	}
	return string(out)
}
