// Package store persists accounts, action records and faucet claims with gorm.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnsupported = errors.New("not supported by this database backend")
)

type Store struct {
	db *gorm.DB
}

// Open connects to postgres for postgres:// DSNs and to a sqlite file otherwise, then migrates.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	var dial gorm.Dialector
	isSQLite := false
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dial = postgres.Open(dsn)
	default:
		isSQLite = true
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if dir := filepath.Dir(dsn); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create db dir: %w", err)
				}
			}
		}
		dial = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if isSQLite {
		// sqlite allows a single writer; :memory: also lives on one connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	if err := db.AutoMigrate(&Account{}, &ActionRecord{}, &FaucetClaim{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Backend names the SQL dialect in use.
func (s *Store) Backend() string { return s.db.Dialector.Name() }

func newFingerprint() string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// EnsureAccount returns the account for address, creating it with a fresh fingerprint on first sight.
func (s *Store) EnsureAccount(address string) (*Account, error) {
	var acc Account
	err := s.db.Where(Account{Address: address}).
		Attrs(Account{Fingerprint: newFingerprint()}).
		FirstOrCreate(&acc).Error
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return &acc, nil
}

// Account loads one account by EOA address.
func (s *Store) Account(address string) (*Account, error) {
	var acc Account
	err := s.db.First(&acc, "address = ?", address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Accounts lists every account ordered by id.
func (s *Store) Accounts() ([]Account, error) {
	var out []Account
	err := s.db.Order("id").Find(&out).Error
	return out, err
}

// UpdateAccount writes the non-zero fields of upd.
func (s *Store) UpdateAccount(address string, upd Account) error {
	upd.ID, upd.Address = 0, ""
	res := s.db.Model(&Account{}).Where("address = ?", address).Updates(upd)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveToken caches a bearer token until expiresAt.
func (s *Store) SaveToken(address, token string, expiresAt time.Time) error {
	exp := expiresAt.UTC()
	return s.db.Model(&Account{}).Where("address = ?", address).
		Updates(map[string]any{"access_token": token, "token_expires_at": &exp}).Error
}

// ValidToken returns the cached token when it has not expired at now.
func (s *Store) ValidToken(address string, now time.Time) (string, time.Time, bool, error) {
	acc, err := s.Account(address)
	if errors.Is(err, ErrNotFound) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}
	if acc.AccessToken == "" || acc.TokenExpiresAt == nil || !acc.TokenExpiresAt.After(now) {
		return "", time.Time{}, false, nil
	}
	return acc.AccessToken, *acc.TokenExpiresAt, true, nil
}

// ClearToken drops a cached token.
func (s *Store) ClearToken(address string) error {
	return s.db.Model(&Account{}).Where("address = ?", address).
		Updates(map[string]any{"access_token": "", "token_expires_at": nil}).Error
}

// SetProxy remembers the proxy assigned to an account.
func (s *Store) SetProxy(address, proxy string) error {
	return s.db.Model(&Account{}).Where("address = ?", address).Update("proxy", proxy).Error
}

// ClearProxies unassigns every stored proxy and returns how many accounts changed.
func (s *Store) ClearProxies() (int64, error) {
	res := s.db.Model(&Account{}).Where("proxy <> ?", "").Update("proxy", "")
	return res.RowsAffected, res.Error
}

// RecordAction appends an audit entry.
func (s *Store) RecordAction(rec *ActionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.db.Create(rec).Error
}

type ActionFilter struct {
	AccountID uint
	Kind      string
	Status    string
	Limit     int
}

// Actions returns the newest records matching f. Limit defaults to 100.
func (s *Store) Actions(f ActionFilter) ([]ActionRecord, error) {
	q := s.db.Model(&ActionRecord{})
	if f.AccountID != 0 {
		q = q.Where("account_id = ?", f.AccountID)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []ActionRecord
	err := q.Order("created_at desc, id desc").Limit(limit).Find(&out).Error
	return out, err
}

// RecordFaucetClaim stores a payout.
func (s *Store) RecordFaucetClaim(accountID uint, amount float64, nextClaimAt *time.Time) error {
	return s.db.Create(&FaucetClaim{AccountID: accountID, Amount: amount, NextClaimAt: nextClaimAt}).Error
}

// LastFaucetClaim returns the most recent claim for an account.
func (s *Store) LastFaucetClaim(accountID uint) (*FaucetClaim, error) {
	var fc FaucetClaim
	err := s.db.Where("account_id = ?", accountID).Order("created_at desc, id desc").First(&fc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fc, nil
}

type KindStats struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
	Skipped int64 `json:"skipped"`
}

type Summary struct {
	Backend      string               `json:"backend"`
	Accounts     int64                `json:"accounts"`
	Actions      int64                `json:"actions"`
	FaucetClaims int64                `json:"faucet_claims"`
	SuccessRate  float64              `json:"success_rate"`
	ByKind       map[string]KindStats `json:"by_kind"`
}

// Summary aggregates counts and the success rate over all records.
func (s *Store) Summary() (Summary, error) {
	out := Summary{Backend: s.Backend(), ByKind: map[string]KindStats{}}
	if err := s.db.Model(&Account{}).Count(&out.Accounts).Error; err != nil {
		return out, err
	}
	if err := s.db.Model(&FaucetClaim{}).Count(&out.FaucetClaims).Error; err != nil {
		return out, err
	}
	var rows []struct {
		Kind   string
		Status string
		N      int64
	}
	err := s.db.Model(&ActionRecord{}).
		Select("kind, status, count(*) as n").
		Group("kind, status").
		Scan(&rows).Error
	if err != nil {
		return out, err
	}
	var success int64
	for _, r := range rows {
		ks := out.ByKind[r.Kind]
		switch r.Status {
		case StatusSuccess:
			ks.Success += r.N
			success += r.N
		case StatusFailed:
			ks.Failed += r.N
		default:
			ks.Skipped += r.N
		}
		out.ByKind[r.Kind] = ks
		out.Actions += r.N
	}
	if out.Actions > 0 {
		out.SuccessRate = float64(success) / float64(out.Actions) * 100
	}
	return out, nil
}

// Export writes accounts (without secrets) and their action records as indented JSON.
func (s *Store) Export(w io.Writer) error {
	accounts, err := s.Accounts()
	if err != nil {
		return err
	}
	var actions []ActionRecord
	if err := s.db.Order("id").Find(&actions).Error; err != nil {
		return err
	}
	var claims []FaucetClaim
	if err := s.db.Order("id").Find(&claims).Error; err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"exported_at":   time.Now().UTC(),
		"accounts":      accounts,
		"actions":       actions,
		"faucet_claims": claims,
	})
}

// Cleanup deletes action records older than maxAge and returns how many were removed.
func (s *Store) Cleanup(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res := s.db.Where("created_at < ?", cutoff).Delete(&ActionRecord{})
	return res.RowsAffected, res.Error
}

// Vacuum reclaims free pages of a sqlite file. Other backends return ErrUnsupported.
func (s *Store) Vacuum() error {
	if name := s.Backend(); name != "sqlite" {
		return fmt.Errorf("vacuum on %s: %w", name, ErrUnsupported)
	}
	return s.db.Exec("VACUUM").Error
}
