package models

import "time"

// PointReason classifies why a balance changed
type PointReason string

const (
	ReasonSignupGrant   PointReason = "signup_grant"
	ReasonHold          PointReason = "hold"
	ReasonHoldTopUp     PointReason = "hold_topup"
	ReasonHoldRelease   PointReason = "hold_release"
	ReasonAcceptPayment PointReason = "accept_payment"
	ReasonAcceptRefund  PointReason = "accept_refund"
	ReasonPayout        PointReason = "payout"
	ReasonCancelRefund  PointReason = "cancel_refund"
)

// PointTransaction is the audit record of one signed balance adjustment.
type PointTransaction struct {
	ID           string      `json:"id" db:"id"`
	MemberID     string      `json:"member_id" db:"member_id"`
	PostID       string      `json:"post_id,omitempty" db:"post_id"`
	Delta        int         `json:"delta" db:"delta"`
	BalanceAfter int         `json:"balance_after" db:"balance_after"`
	Reason       PointReason `json:"reason" db:"reason"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}
