package model

import "time"

// Account is a registered user identified by its normalised e-mail.
// The lobby key is a bearer token minted at registration and rotated on
// entitlement; it binds FESL-authenticated sessions to Theater connections.
type Account struct {
	ID             int64
	Email          string
	PasswordHashed string
	LobbyKey       string

	IsStaff     bool
	IsSuperuser bool
	IsVerified  bool

	CreatedAt time.Time
	LastLogin time.Time

	ForceClientTURN bool
	ForceServerTURN bool
	NameModPingSite string

	OptinGlobal     bool
	OptinThirdParty bool
	ParentalEmail   string
	Birthdate       time.Time

	Zipcode        string
	Country        string
	Language       string
	AcceptedTos    string
	EntitlementKey string
}
