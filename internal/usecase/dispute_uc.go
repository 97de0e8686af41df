package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/pkg/utils"

	"go.uber.org/zap"
)

type DisputeUsecase struct {
	disputeRepo repository.DisputeRepository
	billRepo    repository.BillRepository
	notifier    Notifier
	clock       Clock
	logger      *zap.Logger
}

func NewDisputeUsecase(
	disputeRepo repository.DisputeRepository,
	billRepo repository.BillRepository,
	notifier Notifier,
	clock Clock,
	logger *zap.Logger,
) *DisputeUsecase {
	if notifier == nil {
		notifier = NopNotifier()
	}
	return &DisputeUsecase{
		disputeRepo: disputeRepo,
		billRepo:    billRepo,
		notifier:    notifier,
		clock:       clock,
		logger:      logger,
	}
}

// raise stores a new OPEN dispute. Payment gating has already been checked
// by the bill usecase.
func (uc *DisputeUsecase) raise(ctx context.Context, b *domain.Bill, userID, reason string) (*domain.Dispute, error) {
	reason = strings.TrimSpace(reason)
	if err := domain.ValidateDisputeReason(reason); err != nil {
		return nil, err
	}
	now := uc.clock.Now()
	d := &domain.Dispute{
		ID:        utils.GenerateID("dsp"),
		BillID:    b.ID,
		RaisedBy:  userID,
		Reason:    reason,
		Status:    domain.DisputeStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.disputeRepo.Create(ctx, d); err != nil {
		return nil, err
	}
	uc.logger.Info("dispute raised",
		zap.String("dispute_id", d.ID),
		zap.String("bill_id", b.ID),
		zap.String("user_id", userID))
	uc.notifier.Notify(ctx, domain.EventDisputeRaised, []string{b.CreatedBy, userID}, map[string]string{
		"dispute_id":  d.ID,
		"bill_id":     b.ID,
		"bill_number": b.BillNumber,
		"reason":      reason,
	})
	return d, nil
}

func (uc *DisputeUsecase) Get(ctx context.Context, id string) (*domain.Dispute, error) {
	return uc.disputeRepo.GetByID(ctx, id)
}

func (uc *DisputeUsecase) ListByBill(ctx context.Context, billID string) ([]*domain.Dispute, error) {
	return uc.disputeRepo.ListByBill(ctx, billID)
}

func (uc *DisputeUsecase) ListByUser(ctx context.Context, userID string) ([]*domain.Dispute, error) {
	return uc.disputeRepo.ListByUser(ctx, userID)
}

func (uc *DisputeUsecase) SetUnderReview(ctx context.Context, id string) (*domain.Dispute, error) {
	return uc.transition(ctx, id, domain.DisputeStatusUnderReview, nil)
}

// Resolve closes the dispute in the payer's favour; the bill becomes payable
// again if its other gates allow it.
func (uc *DisputeUsecase) Resolve(ctx context.Context, id, notes string) (*domain.Dispute, error) {
	return uc.transition(ctx, id, domain.DisputeStatusResolved, &notes)
}

// Reject closes the dispute. It does not block payment on its own.
func (uc *DisputeUsecase) Reject(ctx context.Context, id, notes string) (*domain.Dispute, error) {
	return uc.transition(ctx, id, domain.DisputeStatusRejected, &notes)
}

// Withdraw may only be called by the user who raised the dispute.
func (uc *DisputeUsecase) Withdraw(ctx context.Context, id, byUser string) (*domain.Dispute, error) {
	d, err := uc.disputeRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.RaisedBy != byUser {
		return nil, fmt.Errorf("%w: only the raising user can withdraw dispute %s", domain.ErrNotAuthorized, id)
	}
	return uc.transition(ctx, id, domain.DisputeStatusWithdrawn, nil)
}

func (uc *DisputeUsecase) transition(ctx context.Context, id string, to domain.DisputeStatus, notes *string) (*domain.Dispute, error) {
	if notes != nil && strings.TrimSpace(*notes) == "" {
		notes = nil
	}
	d, err := uc.disputeRepo.Transition(ctx, id, domain.DisputeTransitionSources(to), to, notes, uc.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			uc.logger.Debug("dispute transition rejected", zap.String("dispute_id", id), zap.String("to", string(to)))
		}
		return nil, err
	}

	recipients := []string{d.RaisedBy}
	data := map[string]string{
		"dispute_id": d.ID,
		"bill_id":    d.BillID,
		"status":     string(d.Status),
	}
	if b, berr := uc.billRepo.GetByID(ctx, d.BillID); berr == nil {
		recipients = append(recipients, b.CreatedBy)
		data["bill_number"] = b.BillNumber
	}
	if d.ResolutionNotes != nil {
		data["notes"] = *d.ResolutionNotes
	}
	uc.notifier.Notify(ctx, domain.EventDisputeUpdated, recipients, data)
	return d, nil
}
