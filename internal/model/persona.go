package model

import "time"

// Persona is an in-game identity owned by exactly one account. Names are
// unique case-insensitively. AllowInsecureLogin permits ticket-based
// console logins that carry no password.
type Persona struct {
	ID                 int64
	UserID             int64
	Name               string
	AllowInsecureLogin bool
	CreatedAt          time.Time
}
