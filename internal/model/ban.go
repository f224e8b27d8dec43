package model

// Ban blocks an account by the SHA-256 hash of its lowercased e-mail.
type Ban struct {
	ID        int64
	EmailHash string
	Reason    string
}
