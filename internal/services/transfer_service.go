package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/vaultcore/backend/internal/audit"
	"github.com/vaultcore/backend/internal/middleware"
	"github.com/vaultcore/backend/internal/models"
)

// NotificationSink receives post-commit alerts. Calls are best-effort: a slow
// or failing sink never blocks or fails a committed transfer.
type NotificationSink interface {
	SendTransactionAlert(account *models.Account, amount decimal.Decimal, direction models.Direction)
	SendLowBalanceAlert(account *models.Account)
}

// SettlementQueue receives committed transfers for downstream settlement
// export, best-effort.
type SettlementQueue interface {
	QueueTransfer(record SettlementRecord)
}

// FundTransferService orchestrates a transfer: fail-fast precondition checks,
// then one SQL transaction covering both balance writes, the PENDING ledger
// pair, and its finalization to SUCCESS. Either every step commits or none
// does; the rollback path is the compensation for any mid-sequence failure.
type FundTransferService struct {
	db              *sql.DB
	accounts        *AccountService
	ledger          *LedgerService
	security        *AccountSecurityService
	limits          *TransactionLimitService
	notifier        NotificationSink
	settlement      SettlementQueue
	audit           *audit.Logger
	validator       *ValidationHelper
	lowBalanceFloor decimal.Decimal
}

func NewFundTransferService(
	db *sql.DB,
	accounts *AccountService,
	ledger *LedgerService,
	security *AccountSecurityService,
	limits *TransactionLimitService,
	notifier NotificationSink,
	settlement SettlementQueue,
) *FundTransferService {
	viper.SetDefault("alerts.low_balance_floor", "100")

	floor, err := decimal.NewFromString(viper.GetString("alerts.low_balance_floor"))
	if err != nil {
		floor = decimal.NewFromInt(100)
	}
	return &FundTransferService{
		db:              db,
		accounts:        accounts,
		ledger:          ledger,
		security:        security,
		limits:          limits,
		notifier:        notifier,
		settlement:      settlement,
		audit:           audit.NewLogger(),
		validator:       NewValidationHelper(),
		lowBalanceFloor: floor,
	}
}

// Transfer moves amount from one resolved account to another and returns the
// reference ID shared by the resulting DEBIT/CREDIT pair.
//
// Preconditions run in a fixed order and the first failure wins with zero
// side effects: same-account, non-positive amount, frozen source, PIN, limit,
// balance. The commit sequence then runs inside a single transaction with
// both accounts row-locked in ascending-ID order.
func (s *FundTransferService) Transfer(ctx context.Context, from, to *models.Account, amount decimal.Decimal, pin, actorID string) (string, error) {
	if from.ID == to.ID {
		return "", ErrSameAccountTransfer
	}
	if amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	if err := s.security.EnsureActive(from); err != nil {
		return "", err
	}
	if err := s.security.VerifyPIN(ctx, from, pin); err != nil {
		return "", err
	}
	if err := s.limits.ValidateLimit(from, amount); err != nil {
		return "", err
	}
	if from.Balance.LessThan(amount) {
		return "", ErrInsufficientBalance
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storeUnavailable("transfer", err)
	}
	defer tx.Rollback()

	lockedFrom, lockedTo, err := s.accounts.lockPair(ctx, tx, from.ID, to.ID)
	if err != nil {
		return "", err
	}

	// Re-check under the lock: the resolved record may be stale by the time
	// the lock is held.
	if lockedFrom.Balance.LessThan(amount) {
		return "", ErrInsufficientBalance
	}

	newFromBalance := lockedFrom.Balance.Sub(amount)
	newToBalance := lockedTo.Balance.Add(amount)

	if err := s.accounts.updateBalance(ctx, tx, lockedFrom.ID, newFromBalance, lockedFrom.Version); err != nil {
		return "", err
	}
	if err := s.accounts.updateBalance(ctx, tx, lockedTo.ID, newToBalance, lockedTo.Version); err != nil {
		return "", err
	}
	if err := s.accounts.touchLastTransaction(ctx, tx, lockedFrom.ID); err != nil {
		return "", err
	}

	referenceID := uuid.NewString()

	flagged, err := s.ledger.CreatePair(ctx, tx, referenceID, from, to, amount)
	if err != nil {
		return "", err
	}

	if err := s.ledger.finalizePairTx(ctx, tx, referenceID); err != nil {
		if IsKind(err, KindAlreadyProcessed) {
			s.audit.LogAnomaly(referenceID, from.ID, "pair not PENDING at finalization")
		}
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", storeUnavailable("transfer commit", err)
	}

	s.audit.LogTransfer(referenceID, actorID, from.ID, to.ID, amount.String(), "SUCCESS")
	if flagged {
		log.Printf("[TRANSFER] Flagged transfer %s: amount %s exceeds threshold", referenceID, amount.String())
	}

	from.Balance = newFromBalance
	to.Balance = newToBalance

	go s.afterCommit(referenceID, from, to, amount, newFromBalance)
	return referenceID, nil
}

func (s *FundTransferService) afterCommit(referenceID string, from, to *models.Account, amount, newFromBalance decimal.Decimal) {
	if s.notifier != nil {
		s.notifier.SendTransactionAlert(from, amount, models.DirectionDebit)
		s.notifier.SendTransactionAlert(to, amount, models.DirectionCredit)
		if newFromBalance.LessThan(s.lowBalanceFloor) {
			s.notifier.SendLowBalanceAlert(from)
		}
	}
	if s.settlement != nil {
		s.settlement.QueueTransfer(SettlementRecord{
			ReferenceID:       referenceID,
			FromAccountNumber: from.AccountNumber,
			ToAccountNumber:   to.AccountNumber,
			Amount:            amount,
			CreatedAt:         time.Now(),
		})
	}
}

// TransferRequest is the HTTP payload for POST /transfers. The amount rides
// as a string so decimal precision survives JSON.
type TransferRequest struct {
	FromAccountNumber string `json:"fromAccountNumber" validate:"required,max=32"`
	ToAccountNumber   string `json:"toAccountNumber" validate:"required,max=32"`
	Amount            string `json:"amount" validate:"required"`
	PIN               string `json:"pin" validate:"required,min=4,max=12"`
}

// TransferFunds handles transfer submission
// @Summary Transfer funds between accounts
// @Description Move money from the caller's account to another account, recording a paired ledger entry
// @Tags transfers
// @Accept json
// @Produce json
// @Param transfer body TransferRequest true "Transfer details"
// @Success 201 {object} object{referenceId=string,status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /transfers [post]
func (s *FundTransferService) TransferFunds(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.ActorID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TransferRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		SendErrorResponse(w, ErrInvalidAmount.Message, http.StatusBadRequest, nil)
		return
	}

	from, err := s.accounts.GetByNumber(r.Context(), req.FromAccountNumber)
	if err != nil {
		s.writeTransferError(w, err)
		return
	}
	if from.OwnerID != actorID {
		SendErrorResponse(w, ErrUnauthorized.Message, http.StatusForbidden, nil)
		return
	}

	to, err := s.accounts.GetByNumber(r.Context(), req.ToAccountNumber)
	if err != nil {
		s.writeTransferError(w, err)
		return
	}

	referenceID, err := s.Transfer(r.Context(), from, to, amount, req.PIN, actorID)
	if err != nil {
		log.Printf("[TRANSFER] Transfer %s -> %s failed: %v", req.FromAccountNumber, req.ToAccountNumber, err)
		s.writeTransferError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"referenceId": referenceID,
		"status":      models.EntrySuccess,
	})
}

// GetRecentTransactions returns recent ledger entries
// @Summary Get recent transactions
// @Description List the caller's most recent ledger entries
// @Tags transactions
// @Produce json
// @Param limit query int false "Number of entries to return (default: 10, max: 100)"
// @Success 200 {array} models.LedgerEntry
// @Failure 401 {object} ErrorResponse
// @Router /transactions/recent [get]
func (s *FundTransferService) GetRecentTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.ActorID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Limit int `validate:"omitempty,min=1,max=100"`
	}
	req.Limit = defaultRecentLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = l
		}
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entries, err := s.ledger.GetRecent(r.Context(), actorID, req.Limit)
	if err != nil {
		s.writeTransferError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetTransaction returns one ledger entry by ID
// @Summary Get transaction by ID
// @Description Retrieve a single ledger entry the caller owns
// @Tags transactions
// @Produce json
// @Param entryId path string true "Ledger entry ID"
// @Success 200 {object} models.LedgerEntry
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{entryId} [get]
func (s *FundTransferService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.ActorID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	entryID := chi.URLParam(r, "entryId")
	entry, err := s.ledger.GetByID(r.Context(), entryID, actorID)
	if err != nil {
		s.writeTransferError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// ListTransactions returns filtered entries
// @Summary List transactions
// @Description List the caller's ledger entries filtered by date range, direction, or status
// @Tags transactions
// @Produce json
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param type query string false "Direction filter (DEBIT or CREDIT)"
// @Param status query string false "Status filter (PENDING, SUCCESS, FAILED)"
// @Success 200 {object} object{transactions=[]models.LedgerEntry,count=int}
// @Failure 400 {object} ErrorResponse
// @Router /transactions [get]
func (s *FundTransferService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.ActorID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var (
		entries []models.LedgerEntry
		err     error
	)

	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	typeStr := r.URL.Query().Get("type")
	statusStr := r.URL.Query().Get("status")

	switch {
	case fromStr != "" && toStr != "":
		var fromDate, toDate time.Time
		fromDate, err = time.Parse("2006-01-02", fromStr)
		if err == nil {
			toDate, err = time.Parse("2006-01-02", toStr)
		}
		if err != nil {
			SendErrorResponse(w, "Invalid date format, expected YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		entries, err = s.ledger.GetByDateRange(r.Context(), actorID, fromDate, toDate)
	case typeStr != "":
		direction := models.Direction(typeStr)
		if direction != models.DirectionDebit && direction != models.DirectionCredit {
			SendErrorResponse(w, "Invalid type, expected DEBIT or CREDIT", http.StatusBadRequest, nil)
			return
		}
		entries, err = s.ledger.GetByType(r.Context(), actorID, direction)
	case statusStr != "":
		status := models.EntryStatus(statusStr)
		if status != models.EntryPending && status != models.EntrySuccess && status != models.EntryFailed {
			SendErrorResponse(w, "Invalid status, expected PENDING, SUCCESS or FAILED", http.StatusBadRequest, nil)
			return
		}
		entries, err = s.ledger.GetByStatus(r.Context(), actorID, status)
	default:
		entries, err = s.ledger.GetRecent(r.Context(), actorID, defaultRecentLimit)
	}

	if err != nil {
		s.writeTransferError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": entries,
		"count":        len(entries),
	})
}

// GetTransactionSummary returns debit/credit totals
// @Summary Get transaction summary
// @Description Sum of the caller's debited and credited amounts
// @Tags transactions
// @Produce json
// @Success 200 {object} object{totalDebited=string,totalCredited=string}
// @Failure 401 {object} ErrorResponse
// @Router /transactions/summary [get]
func (s *FundTransferService) GetTransactionSummary(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.ActorID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	debited, err := s.ledger.TotalDebited(r.Context(), actorID)
	if err != nil {
		s.writeTransferError(w, err)
		return
	}
	credited, err := s.ledger.TotalCredited(r.Context(), actorID)
	if err != nil {
		s.writeTransferError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"totalDebited":  debited.String(),
		"totalCredited": credited.String(),
	})
}

// ChangePINRequest is the HTTP payload for POST /accounts/pin.
type ChangePINRequest struct {
	AccountNumber string `json:"accountNumber" validate:"required,max=32"`
	OldPIN        string `json:"oldPin" validate:"required,min=4,max=12"`
	NewPIN        string `json:"newPin" validate:"required,min=4,max=12"`
}

// ChangePIN rotates an account PIN
// @Summary Change account PIN
// @Description Replace the caller's account PIN after verifying the old one
// @Tags accounts
// @Accept json
// @Produce json
// @Param request body ChangePINRequest true "PIN change request"
// @Success 200 {object} object{status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /accounts/pin [post]
func (s *FundTransferService) ChangePIN(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.ActorID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req ChangePINRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := s.accounts.GetByNumber(r.Context(), req.AccountNumber)
	if err != nil {
		s.writeTransferError(w, err)
		return
	}
	if account.OwnerID != actorID {
		SendErrorResponse(w, ErrUnauthorized.Message, http.StatusForbidden, nil)
		return
	}

	if err := s.security.ChangePIN(r.Context(), account, req.OldPIN, req.NewPIN); err != nil {
		s.writeTransferError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "PIN_CHANGED"})
}

func (s *FundTransferService) writeTransferError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	// Never leak driver detail to the caller.
	message := "transfer could not be processed"
	var te *TransferError
	if errors.As(err, &te) && kind != KindStoreUnavailable {
		message = te.Message
	}
	SendErrorResponse(w, message, statusForKind(kind), nil)
}

func statusForKind(kind ErrorKind) int {
	switch kind {
	case KindInvalidAmount, KindSameAccountTransfer:
		return http.StatusBadRequest
	case KindInvalidPIN, KindUnauthorized:
		return http.StatusForbidden
	case KindAccountFrozen, KindLimitExceeded, KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case KindAlreadyProcessed:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
