// Package model defines domain entities used by services and repositories.
package model

import (
	"time"
)

// Tokens collects issued access/refresh tokens.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry

	RefreshExpiresAt time.Time
	SessionID        string
}

// Admin is a tenant administrator. The password is never stored in plaintext.
type Admin struct {
	ID        string
	TenantID  string
	Email     string // unique
	PwdHash   []byte // Argon2id(password, Salt)
	Salt      []byte
	CreatedAt time.Time
}

// AdminSession is a refresh-token session. Only the token hash is persisted.
type AdminSession struct {
	ID               string // session jti
	TenantID         string
	AdminID          string
	RefreshTokenHash string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
}

// Device is a registered field device with one Ed25519 public key.
type Device struct {
	ID        string
	TenantID  string
	PublicKey []byte // raw 32-byte ed25519 key
	Algorithm string // "ed25519"
	Enabled   bool
	CreatedAt time.Time
}

// TokenKind distinguishes the namespaces of redeemable tokens.
type TokenKind string

const (
	TokenStamp      TokenKind = "stamp"
	TokenReward     TokenKind = "reward"
	TokenDeviceLink TokenKind = "device_link"
)

// RedeemableToken is a single-use token. Only its hash is stored.
type RedeemableToken struct {
	ID        string // jti
	Kind      TokenKind
	TenantID  string
	DeviceID  string // issuing device, empty for device links
	CardID    string // empty for stamp tokens until claimed
	AdminID   string // issuing admin for device links
	TokenHash string // sha256 hex of the raw token
	ExpiresAt time.Time
	ClaimedAt *time.Time
	CreatedAt time.Time
}

// Expired reports whether the token can no longer be claimed at now.
func (t *RedeemableToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// CardState is the stamp/reward balance of a loyalty card.
type CardState struct {
	CurrentStamps    int `json:"currentStamps"`
	StampsRequired   int `json:"stampsRequired"`
	RewardsAvailable int `json:"rewardsAvailable"`
}

// AddStamp returns the balance after one more stamp. Reaching the required
// count converts the stamps into one reward.
func (c CardState) AddStamp() CardState {
	c.CurrentStamps++
	if c.CurrentStamps >= c.StampsRequired {
		c.CurrentStamps = 0
		c.RewardsAvailable++
	}
	return c
}

// AuditEntry is the caller-supplied part of a WORM event.
type AuditEntry struct {
	TenantID      string
	Action        string
	Result        string
	DeviceID      string
	CardID        string
	JTI           string
	CorrelationID string
	At            time.Time
}

// WormEvent is a persisted, hash-chained audit record.
type WormEvent struct {
	TenantID      string    `json:"tenant_id"`
	Seq           int64     `json:"seq"`
	TS            time.Time `json:"ts"`
	Action        string    `json:"action"`
	Result        string    `json:"result"`
	DeviceID      string    `json:"device_id,omitempty"`
	CardID        string    `json:"card_id,omitempty"`
	JTI           string    `json:"jti,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

// ExportStatus is the lifecycle state of an export run.
type ExportStatus string

const (
	ExportStarted ExportStatus = "STARTED"
	ExportSuccess ExportStatus = "SUCCESS"
	ExportFailed  ExportStatus = "FAILED"
)

// ExportRun tracks one exported sequence range of a tenant.
type ExportRun struct {
	ID           string
	TenantID     string
	FromSeq      int64
	ToSeq        int64
	Status       ExportStatus
	ObjectKey    string
	ErrorCode    string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}
