package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/vaultcore/backend/internal/models"
)

const defaultRecentLimit = 10

// LedgerService is the append-mostly transaction record store. Every transfer
// produces exactly two entries sharing a reference ID: a DEBIT owned by the
// sender and a CREDIT owned by the receiver. Reads are always scoped to the
// owner; only status finalization mutates existing rows.
type LedgerService struct {
	db            *sql.DB
	flagThreshold decimal.Decimal
}

func NewLedgerService(db *sql.DB) *LedgerService {
	viper.SetDefault("ledger.flag_threshold", "10000")

	threshold, err := decimal.NewFromString(viper.GetString("ledger.flag_threshold"))
	if err != nil {
		log.Printf("[LEDGER] Invalid flag threshold %q, using 10000", viper.GetString("ledger.flag_threshold"))
		threshold = decimal.NewFromInt(10000)
	}
	return &LedgerService{db: db, flagThreshold: threshold}
}

// FlagThreshold is the fixed amount above which both entries of a transfer
// are marked for fraud review at creation time.
func (s *LedgerService) FlagThreshold() decimal.Decimal {
	return s.flagThreshold
}

// CreatePair inserts the PENDING DEBIT and CREDIT entries for one transfer
// inside the caller's transaction. Both halves carry both account IDs so each
// side can reconstruct the counterparty; descriptions reference the
// counterparty's account number. Returns whether the pair was flagged.
func (s *LedgerService) CreatePair(ctx context.Context, tx *sql.Tx, referenceID string, from, to *models.Account, amount decimal.Decimal) (bool, error) {
	flagged := amount.GreaterThan(s.flagThreshold)
	createdAt := time.Now()

	debit := models.LedgerEntry{
		ID:            uuid.NewString(),
		ReferenceID:   referenceID,
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		OwnerID:       from.OwnerID,
		Amount:        amount,
		Direction:     models.DirectionDebit,
		Status:        models.EntryPending,
		Description:   fmt.Sprintf("Fund Transfer to %s", to.AccountNumber),
		Flagged:       flagged,
		CreatedAt:     createdAt,
	}
	credit := models.LedgerEntry{
		ID:            uuid.NewString(),
		ReferenceID:   referenceID,
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		OwnerID:       to.OwnerID,
		Amount:        amount,
		Direction:     models.DirectionCredit,
		Status:        models.EntryPending,
		Description:   fmt.Sprintf("Fund Transfer from %s", from.AccountNumber),
		Flagged:       flagged,
		CreatedAt:     createdAt,
	}

	for _, entry := range []models.LedgerEntry{debit, credit} {
		if err := s.insertEntry(ctx, tx, &entry); err != nil {
			return flagged, err
		}
	}
	return flagged, nil
}

func (s *LedgerService) insertEntry(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, reference_id, from_account_id, to_account_id, owner_id, amount, direction, status, description, flagged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.ReferenceID, entry.FromAccountID, entry.ToAccountID,
		entry.OwnerID, entry.Amount, entry.Direction, entry.Status,
		entry.Description, entry.Flagged, entry.CreatedAt)
	if err != nil {
		return storeUnavailable("ledger entry creation", err)
	}
	return nil
}

// finalizePairTx transitions the whole pair from PENDING to SUCCESS inside
// the caller's transaction. Anything other than exactly two PENDING entries
// means the pair was already settled and must not be re-processed.
func (s *LedgerService) finalizePairTx(ctx context.Context, tx *sql.Tx, referenceID string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = $1
		WHERE reference_id = $2 AND status = $3`,
		models.EntrySuccess, referenceID, models.EntryPending)
	if err != nil {
		return storeUnavailable("pair finalization", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeUnavailable("pair finalization", err)
	}
	if rowsAffected != 2 {
		return ErrAlreadyProcessed
	}
	return nil
}

// MarkSuccess finalizes the pair located by reference ID. It rejects with
// ALREADY_PROCESSED when any entry of the pair is no longer PENDING; the
// pair is then treated as already settled, never re-processed.
func (s *LedgerService) MarkSuccess(ctx context.Context, referenceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeUnavailable("pair finalization", err)
	}
	defer tx.Rollback()

	if err := s.requirePair(ctx, tx, referenceID); err != nil {
		return err
	}
	if err := s.finalizePairTx(ctx, tx, referenceID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeUnavailable("pair finalization", err)
	}
	return nil
}

// MarkFailed moves every still-PENDING entry of the pair to FAILED. Entries
// already terminal are left untouched; status never moves backward.
func (s *LedgerService) MarkFailed(ctx context.Context, referenceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeUnavailable("pair failure", err)
	}
	defer tx.Rollback()

	if err := s.requirePair(ctx, tx, referenceID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = $1
		WHERE reference_id = $2 AND status = $3`,
		models.EntryFailed, referenceID, models.EntryPending)
	if err != nil {
		return storeUnavailable("pair failure", err)
	}

	if err := tx.Commit(); err != nil {
		return storeUnavailable("pair failure", err)
	}
	return nil
}

func (s *LedgerService) requirePair(ctx context.Context, tx *sql.Tx, referenceID string) error {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE reference_id = $1`, referenceID).Scan(&count)
	if err != nil {
		return storeUnavailable("pair lookup", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

const entryColumns = `id, reference_id, from_account_id, to_account_id, owner_id, amount, direction, status, description, flagged, created_at`

// GetByID returns a single entry, enforcing that the caller owns it.
func (s *LedgerService) GetByID(ctx context.Context, entryID, ownerID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, entryID).Scan(
		&entry.ID, &entry.ReferenceID, &entry.FromAccountID, &entry.ToAccountID,
		&entry.OwnerID, &entry.Amount, &entry.Direction, &entry.Status,
		&entry.Description, &entry.Flagged, &entry.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeUnavailable("entry lookup", err)
	}

	if entry.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}
	return &entry, nil
}

// GetRecent returns the caller's newest entries, most recent first. A
// non-positive limit falls back to 10.
func (s *LedgerService) GetRecent(ctx context.Context, ownerID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit)
}

// GetByDateRange returns the caller's entries created inside [from, to],
// inclusive of the whole final day.
func (s *LedgerService) GetByDateRange(ctx context.Context, ownerID string, from, to time.Time) ([]models.LedgerEntry, error) {
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	end := time.Date(to.Year(), to.Month(), to.Day(), 23, 59, 59, 999999999, to.Location())
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE owner_id = $1 AND created_at BETWEEN $2 AND $3 ORDER BY created_at DESC`,
		ownerID, start, end)
}

func (s *LedgerService) GetByType(ctx context.Context, ownerID string, direction models.Direction) ([]models.LedgerEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE owner_id = $1 AND direction = $2 ORDER BY created_at DESC`,
		ownerID, direction)
}

func (s *LedgerService) GetByStatus(ctx context.Context, ownerID string, status models.EntryStatus) ([]models.LedgerEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE owner_id = $1 AND status = $2 ORDER BY created_at DESC`,
		ownerID, status)
}

func (s *LedgerService) queryEntries(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeUnavailable("entry query", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var entry models.LedgerEntry
		err := rows.Scan(
			&entry.ID, &entry.ReferenceID, &entry.FromAccountID, &entry.ToAccountID,
			&entry.OwnerID, &entry.Amount, &entry.Direction, &entry.Status,
			&entry.Description, &entry.Flagged, &entry.CreatedAt,
		)
		if err != nil {
			return nil, storeUnavailable("entry query", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storeUnavailable("entry query", err)
	}
	return entries, nil
}

// TotalDebited sums the caller's DEBIT entries.
func (s *LedgerService) TotalDebited(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	return s.sumByDirection(ctx, ownerID, models.DirectionDebit)
}

// TotalCredited sums the caller's CREDIT entries.
func (s *LedgerService) TotalCredited(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	return s.sumByDirection(ctx, ownerID, models.DirectionCredit)
}

func (s *LedgerService) sumByDirection(ctx context.Context, ownerID string, direction models.Direction) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE owner_id = $1 AND direction = $2`,
		ownerID, direction).Scan(&total)
	if err != nil {
		return decimal.Zero, storeUnavailable(strings.ToLower(string(direction))+" total", err)
	}
	return total, nil
}
