package domain

import (
	"fmt"
	"strings"
	"time"
)

type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "OPEN"
	DisputeStatusUnderReview DisputeStatus = "UNDER_REVIEW"
	DisputeStatusResolved    DisputeStatus = "RESOLVED"
	DisputeStatusRejected    DisputeStatus = "REJECTED"
	DisputeStatusWithdrawn   DisputeStatus = "WITHDRAWN"
)

// IsActive: only open and under-review disputes block payment.
func (s DisputeStatus) IsActive() bool {
	return s == DisputeStatusOpen || s == DisputeStatusUnderReview
}

// ActiveDisputeStatuses lists the statuses that count as an active dispute.
var ActiveDisputeStatuses = []DisputeStatus{DisputeStatusOpen, DisputeStatusUnderReview}

type Dispute struct {
	ID              string        `json:"id" db:"id"`
	BillID          string        `json:"bill_id" db:"bill_id"`
	RaisedBy        string        `json:"raised_by" db:"raised_by"`
	Reason          string        `json:"reason" db:"reason"`
	Status          DisputeStatus `json:"status" db:"status"`
	ResolutionNotes *string       `json:"resolution_notes,omitempty" db:"resolution_notes"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

const maxDisputeReasonLength = 2000

func ValidateDisputeReason(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: dispute reason is required", ErrValidation)
	}
	if len(reason) > maxDisputeReasonLength {
		return fmt.Errorf("%w: dispute reason is too long", ErrValidation)
	}
	return nil
}

// DisputeTransitionSources lists the statuses a dispute may leave to reach to.
func DisputeTransitionSources(to DisputeStatus) []DisputeStatus {
	switch to {
	case DisputeStatusUnderReview:
		return []DisputeStatus{DisputeStatusOpen}
	case DisputeStatusResolved, DisputeStatusRejected:
		// Admin decisions follow a review.
		return []DisputeStatus{DisputeStatusUnderReview}
	case DisputeStatusWithdrawn:
		return []DisputeStatus{DisputeStatusOpen, DisputeStatusUnderReview}
	}
	return nil
}

// IsTerminal reports whether the dispute can no longer change.
func (s DisputeStatus) IsTerminal() bool {
	return s == DisputeStatusResolved || s == DisputeStatusRejected || s == DisputeStatusWithdrawn
}
