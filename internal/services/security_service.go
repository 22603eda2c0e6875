package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/vaultcore/backend/internal/models"
)

// AccountSecurityService guards transfer authorization: account status and
// PIN verification. It never logs or returns PIN material.
type AccountSecurityService struct {
	db *sql.DB
}

func NewAccountSecurityService(db *sql.DB) *AccountSecurityService {
	return &AccountSecurityService{db: db}
}

// EnsureActive rejects any account that is not ACTIVE as a transfer origin.
func (s *AccountSecurityService) EnsureActive(account *models.Account) error {
	if account.Status != models.AccountActive {
		return ErrAccountFrozen
	}
	return nil
}

// VerifyPIN compares the supplied PIN against the stored argon2id hash in
// constant time. A mismatch bumps failed_pin_attempts best-effort; the
// counter update never blocks concurrent reads and no lockout threshold is
// enforced.
func (s *AccountSecurityService) VerifyPIN(ctx context.Context, account *models.Account, pin string) error {
	if verifyPIN(pin, account.PINHash) {
		return nil
	}
	s.recordFailedAttempt(ctx, account.ID)
	return ErrInvalidPIN
}

// ChangePIN rotates the account PIN after verifying the old one and resets
// the failure counter.
func (s *AccountSecurityService) ChangePIN(ctx context.Context, account *models.Account, oldPIN, newPIN string) error {
	if !verifyPIN(oldPIN, account.PINHash) {
		s.recordFailedAttempt(ctx, account.ID)
		return ErrInvalidPIN
	}

	hash, err := HashPIN(newPIN)
	if err != nil {
		return storeUnavailable("pin change", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE accounts
		SET pin_hash = $1, failed_pin_attempts = 0, updated_at = NOW()
		WHERE id = $2`, hash, account.ID)
	if err != nil {
		return storeUnavailable("pin change", err)
	}

	account.PINHash = hash
	account.FailedPINAttempts = 0
	return nil
}

func (s *AccountSecurityService) recordFailedAttempt(ctx context.Context, accountID string) {
	if s.db == nil {
		return
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET failed_pin_attempts = failed_pin_attempts + 1, updated_at = NOW()
		WHERE id = $1`, accountID)
	if err != nil {
		log.Printf("[SECURITY] Failed to record PIN failure for account %s: %v", accountID, err)
	}
}

type argonParams struct {
	time       uint32
	memory     uint32
	threads    uint8
	keyLength  uint32
	saltLength int
}

func loadArgonParams() argonParams {
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	return argonParams{
		time:       uint32(viper.GetInt("argon2.time")),
		memory:     uint32(viper.GetInt("argon2.memory")),
		threads:    uint8(viper.GetInt("argon2.threads")),
		keyLength:  uint32(viper.GetInt("argon2.key_length")),
		saltLength: viper.GetInt("argon2.salt_length"),
	}
}

// HashPIN derives an argon2id hash encoded as base64(salt)$base64(hash).
func HashPIN(pin string) (string, error) {
	p := loadArgonParams()

	salt := make([]byte, p.saltLength)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(pin), salt, p.time, p.memory, p.threads, p.keyLength)
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPIN(pin, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	p := loadArgonParams()
	computed := argon2.IDKey([]byte(pin), salt, p.time, p.memory, p.threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computed) == 1
}
