// Package validate holds the input rules for accounts, personas and
// game names. The limits mirror what the original EA backend accepted,
// the game client truncates anything longer anyway.
package validate

import (
	"errors"
	"strings"
)

var (
	ErrEmailInvalid    = errors.New("email address is invalid")
	ErrPasswordInvalid = errors.New("password must be 6 to 50 characters")
	ErrNameInvalid     = errors.New("name is invalid")
)

// NormalizeEmail trims surrounding whitespace and lowercases the domain
// part. The local part keeps its case.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(email[at+1:])
}

// Email checks length and character set of an email address.
func Email(email string) error {
	if len(email) < 4 || len(email) > 50 {
		return ErrEmailInvalid
	}
	if !strings.ContainsRune(email, '@') {
		return ErrEmailInvalid
	}
	for _, c := range email {
		if isAlnum(c) {
			continue
		}
		switch c {
		case '.', '_', ',', '-', '@', '+':
			continue
		}
		return ErrEmailInvalid
	}
	return nil
}

// Password checks the password length bounds.
func Password(password string) error {
	if len(password) < 6 || len(password) > 50 {
		return ErrPasswordInvalid
	}
	return nil
}

// PersonaName checks a persona name.
func PersonaName(name string) error {
	return displayName(name)
}

// GameName checks a game server name. Same rules as persona names,
// non-dedicated hosts advertise under their persona.
func GameName(name string) error {
	return displayName(name)
}

func displayName(name string) error {
	if len(name) < 3 || len(name) > 31 {
		return ErrNameInvalid
	}
	if strings.HasPrefix(name, " ") || strings.HasSuffix(name, " ") {
		return ErrNameInvalid
	}
	for _, c := range name {
		if isAlnum(c) {
			continue
		}
		switch c {
		case '-', '_', ' ':
			continue
		}
		return ErrNameInvalid
	}
	return nil
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
