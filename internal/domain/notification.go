package domain

import "time"

type EventKind string

const (
	EventBillCreated         EventKind = "bill.created"
	EventBillAcknowledged    EventKind = "bill.acknowledged"
	EventBillCancelled       EventKind = "bill.cancelled"
	EventBillReminder        EventKind = "bill.reminder"
	EventBillOverdue         EventKind = "bill.overdue"
	EventBillRefunded        EventKind = "bill.refunded"
	EventDisputeRaised       EventKind = "dispute.raised"
	EventDisputeUpdated      EventKind = "dispute.updated"
	EventPaymentSucceeded    EventKind = "payment.succeeded"
	EventPaymentFailed       EventKind = "payment.failed"
	EventPaymentPending      EventKind = "payment.pending"
	EventRecurringPaused     EventKind = "recurring.paused"
	EventRecurringExpired    EventKind = "recurring.expired"
	EventRecurringReminder   EventKind = "recurring.reminder"
	EventWalletStatusChanged EventKind = "wallet.status_changed"
	EventEstateWalletDebited EventKind = "estate_wallet.debited"
)

// Notification is one fire-and-forget message to a set of users.
type Notification struct {
	Kind       EventKind         `json:"kind"`
	Recipients []string          `json:"recipients"`
	Context    map[string]string `json:"context,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
