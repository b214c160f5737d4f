package model

import "time"

// Credential is a stored login record. Email is the natural key; at most one
// Credential exists per distinct Email. PasswordHash holds an encoded
// password hash, never the plaintext password.
type Credential struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
