package domain

import "time"

// PKCESession is the server-held half of a proof-key exchange, unique per
// (auth group, state). Created only when the connection requires PKCE,
// consumed by lookup on callback and removed on consumption; TTL expiry is
// the backstop for abandoned attempts.
type PKCESession struct {
	ID            string    `bson:"_id,omitempty" json:"id,omitempty"`
	AuthGroup     string    `bson:"auth_group" json:"auth_group"`
	State         string    `bson:"state" json:"state"`
	CodeChallenge string    `bson:"code_challenge" json:"code_challenge"`
	CodeVerifier  string    `bson:"code_verifier" json:"code_verifier"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt     time.Time `bson:"expires_at" json:"expires_at"`
}
