// Package ledger owns member point balances. Every balance change in the
// service goes through Ledger.Adjust.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sitter-points-backend/pkg/database"
	"sitter-points-backend/pkg/models"
)

var (
	// ErrInsufficientBalance is returned when a debit would take a balance
	// below zero at commit time.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrMemberNotFound is returned for an unknown member id.
	ErrMemberNotFound = errors.New("member not found")
)

// Store is the subset of the database the ledger needs.
type Store interface {
	GetPoints(ctx context.Context, memberID string) (int, error)
	AdjustPoints(ctx context.Context, entry *models.PointTransaction) (int, error)
	ListPointTransactions(ctx context.Context, memberID string) ([]models.PointTransaction, error)
}

// Reason ties an adjustment to the post and event that caused it.
type Reason struct {
	PostID string
	Kind   models.PointReason
}

// Ledger is the single writer of member balances.
type Ledger struct {
	store Store
	log   *zap.Logger
}

// New creates a Ledger over store.
func New(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log.Named("ledger")}
}

// CheckSufficient reports whether the member can currently afford amount.
// Negative amounts are never sufficient; zero always is.
func (l *Ledger) CheckSufficient(ctx context.Context, memberID string, amount int) (bool, error) {
	if amount < 0 {
		return false, nil
	}
	if amount == 0 {
		return true, nil
	}
	balance, err := l.Balance(ctx, memberID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// Adjust atomically adds delta to the member's balance and returns the new
// balance. A debit that would go negative fails with ErrInsufficientBalance
// and leaves the balance untouched; it is never clamped.
func (l *Ledger) Adjust(ctx context.Context, memberID string, delta int, reason Reason) (int, error) {
	if delta == 0 {
		return l.Balance(ctx, memberID)
	}

	entry := &models.PointTransaction{
		MemberID: memberID,
		PostID:   reason.PostID,
		Delta:    delta,
		Reason:   reason.Kind,
	}
	balance, err := l.store.AdjustPoints(ctx, entry)
	switch {
	case errors.Is(err, database.ErrInsufficientBalance):
		return balance, fmt.Errorf("debit %d from %s: %w", -delta, memberID, ErrInsufficientBalance)
	case errors.Is(err, database.ErrNotFound):
		return 0, fmt.Errorf("adjust %s: %w", memberID, ErrMemberNotFound)
	case err != nil:
		return 0, fmt.Errorf("adjust %s by %d: %w", memberID, delta, err)
	}

	l.log.Debug("points adjusted",
		zap.String("member_id", memberID),
		zap.Int("delta", delta),
		zap.Int("balance", balance),
		zap.String("reason", string(reason.Kind)),
		zap.String("post_id", reason.PostID),
	)
	return balance, nil
}

// Credit adds a positive amount.
func (l *Ledger) Credit(ctx context.Context, memberID string, amount int, reason Reason) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("credit of negative amount %d", amount)
	}
	return l.Adjust(ctx, memberID, amount, reason)
}

// Debit removes a positive amount.
func (l *Ledger) Debit(ctx context.Context, memberID string, amount int, reason Reason) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("debit of negative amount %d", amount)
	}
	return l.Adjust(ctx, memberID, -amount, reason)
}

// Balance returns the member's current balance.
func (l *Ledger) Balance(ctx context.Context, memberID string) (int, error) {
	balance, err := l.store.GetPoints(ctx, memberID)
	if errors.Is(err, database.ErrNotFound) {
		return 0, fmt.Errorf("balance %s: %w", memberID, ErrMemberNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", memberID, err)
	}
	return balance, nil
}

// History returns the member's ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, memberID string) ([]models.PointTransaction, error) {
	entries, err := l.store.ListPointTransactions(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", memberID, err)
	}
	return entries, nil
}
