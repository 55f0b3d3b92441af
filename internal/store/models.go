package store

import "time"

// Action outcomes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Account is a wallet the bot has seen. Private keys are not stored.
type Account struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Address        string     `gorm:"uniqueIndex;size:42" json:"address"`
	SmartAccount   string     `gorm:"index;size:42" json:"smart_account,omitempty"`
	Username       string     `json:"username,omitempty"`
	Fingerprint    string     `gorm:"size:64" json:"fingerprint"`
	Proxy          string     `json:"-"`
	AccessToken    string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ActionRecord is one append-only audit entry.
type ActionRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID uint      `gorm:"index" json:"account_id"`
	RunID     string    `gorm:"index;size:36" json:"run_id,omitempty"`
	Kind      string    `gorm:"index;size:32" json:"kind"`
	Status    string    `gorm:"size:16" json:"status"`
	Detail    string    `json:"detail,omitempty"`
	TxHash    string    `gorm:"size:66" json:"tx_hash,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// FaucetClaim records a successful faucet payout.
type FaucetClaim struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	AccountID   uint       `gorm:"index" json:"account_id"`
	Amount      float64    `json:"amount"`
	NextClaimAt *time.Time `json:"next_claim_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
