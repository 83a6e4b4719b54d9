package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bloodmatch/internal/matching/allocator"
	"bloodmatch/internal/matching/donors"
	matchingerrors "bloodmatch/internal/matching/errors"
	"bloodmatch/internal/matching/lifecycle"
	"bloodmatch/internal/matching/validator"
	"bloodmatch/pkg/config"
	apperrors "bloodmatch/pkg/errors"
	"bloodmatch/pkg/model"

	"github.com/google/uuid"
)

type MatchingService interface {
	RegisterDonor(ctx context.Context, reg *model.DonorRegistration) (model.Donor, error)
	UpdateDonorLocation(ctx context.Context, donorID string, pos model.Position) (model.Donor, error)
	SetDonorEligibility(ctx context.Context, donorID string, update *model.DonorEligibilityUpdate) (model.Donor, error)
	DeactivateDonor(ctx context.Context, donorID string) error
	GetDonor(ctx context.Context, donorID string) (model.Donor, error)
	ListDonors(ctx context.Context, limit int, offset int64) ([]model.Donor, int64, error)

	SubmitRequest(ctx context.Context, sub *model.RequestSubmission) (string, error)
	GetRequest(ctx context.Context, requestID string) (model.BloodRequest, error)
	Allocate(ctx context.Context, requestID string) (allocator.AllocationResult, error)
	ConfirmDonation(ctx context.Context, requestID, donorID string) error
	DeclineReservation(ctx context.Context, requestID, donorID string) error
	CancelRequest(ctx context.Context, requestID string) error
	ExpireRequest(ctx context.Context, requestID string) error
	FulfillRequest(ctx context.Context, requestID string) error
}

type matchingService struct {
	directory *donors.Directory
	requests  *lifecycle.Manager
	allocator *allocator.Allocator
	validator *validator.MatchingValidator
	cfg       *config.Config
	now       func() time.Time
}

func NewMatchingService(
	directory *donors.Directory,
	requests *lifecycle.Manager,
	alloc *allocator.Allocator,
	validator *validator.MatchingValidator,
	cfg *config.Config,
) MatchingService {
	return &matchingService{
		directory: directory,
		requests:  requests,
		allocator: alloc,
		validator: validator,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *matchingService) RegisterDonor(ctx context.Context, reg *model.DonorRegistration) (model.Donor, error) {
	if err := s.validator.ValidateDonor(reg); err != nil {
		s.cfg.Log.Warn("Donor validation failed", "donor_id", reg.ID, "error", err)
		return model.Donor{}, validationError("Donor validation failed", err)
	}

	bloodType, _ := model.ParseBloodType(reg.BloodType)
	donor, err := s.directory.Register(ctx, model.Donor{
		ID:             strings.TrimSpace(reg.ID),
		BloodType:      bloodType,
		Position:       reg.Position,
		Verified:       reg.Verified,
		Active:         reg.Active,
		LastDonationAt: reg.LastDonationAt,
	})
	if err != nil {
		return model.Donor{}, s.translate(err, "", reg.ID)
	}

	s.cfg.Log.Info("Donor registered successfully",
		"donor_id", donor.ID,
		"blood_type", donor.BloodType.String(),
		"verified", donor.Verified,
		"active", donor.Active,
	)
	return donor, nil
}

func (s *matchingService) UpdateDonorLocation(ctx context.Context, donorID string, pos model.Position) (model.Donor, error) {
	if donorID == "" {
		return model.Donor{}, apperrors.InvalidInput("Donor ID cannot be empty")
	}
	if err := s.validator.ValidatePosition(pos); err != nil {
		return model.Donor{}, validationError("Donor location validation failed", err)
	}

	donor, err := s.directory.UpdateLocation(ctx, donorID, pos)
	if err != nil {
		return model.Donor{}, s.translate(err, "", donorID)
	}
	s.cfg.Log.Debug("Donor location updated", "donor_id", donorID)
	return donor, nil
}

func (s *matchingService) SetDonorEligibility(ctx context.Context, donorID string, update *model.DonorEligibilityUpdate) (model.Donor, error) {
	if donorID == "" {
		return model.Donor{}, apperrors.InvalidInput("Donor ID cannot be empty")
	}

	donor, err := s.directory.SetEligibility(ctx, donorID, update.Verified, update.Active)
	if err != nil {
		return model.Donor{}, s.translate(err, "", donorID)
	}
	s.cfg.Log.Info("Donor eligibility updated",
		"donor_id", donorID,
		"verified", donor.Verified,
		"active", donor.Active,
	)
	return donor, nil
}

// DeactivateDonor removes the donor from matching. Reservations it already
// holds are left to their requests.
func (s *matchingService) DeactivateDonor(ctx context.Context, donorID string) error {
	if donorID == "" {
		return apperrors.InvalidInput("Donor ID cannot be empty")
	}
	if _, err := s.directory.Deactivate(ctx, donorID); err != nil {
		return s.translate(err, "", donorID)
	}

	attrs := []any{"donor_id", donorID}
	if holder, ok := s.requests.HolderOf(donorID); ok {
		attrs = append(attrs, "held_by_request", holder)
	}
	s.cfg.Log.Info("Donor deactivated", attrs...)
	return nil
}

func (s *matchingService) GetDonor(_ context.Context, donorID string) (model.Donor, error) {
	if donorID == "" {
		return model.Donor{}, apperrors.InvalidInput("Donor ID cannot be empty")
	}
	donor, err := s.directory.Get(donorID)
	if err != nil {
		return model.Donor{}, s.translate(err, "", donorID)
	}
	return donor, nil
}

func (s *matchingService) ListDonors(_ context.Context, limit int, offset int64) ([]model.Donor, int64, error) {
	all := s.directory.List()
	total := int64(len(all))
	if offset >= total {
		return []model.Donor{}, total, nil
	}
	end := min(offset+int64(limit), total)
	return all[offset:end], total, nil
}

func (s *matchingService) SubmitRequest(_ context.Context, sub *model.RequestSubmission) (string, error) {
	if err := s.validator.ValidateRequest(sub); err != nil {
		s.cfg.Log.Warn("Blood request validation failed", "requester_id", sub.RequesterID, "error", err)
		return "", validationError("Blood request validation failed", err)
	}
	if sub.RadiusMeters > s.cfg.MaxRadiusMeters {
		return "", apperrors.Validation("Blood request validation failed", map[string]any{
			"error": fmt.Sprintf("radius_meters must be at most %.0f", s.cfg.MaxRadiusMeters),
		})
	}

	bloodType, _ := model.ParseBloodType(sub.BloodType)
	urgency := model.Urgency(strings.ToLower(sub.Urgency))
	now := s.now()
	expires := now.Add(s.cfg.RequestTTL[urgency])

	req, err := s.requests.Create(model.BloodRequest{
		ID:           uuid.NewString(),
		RequesterID:  sub.RequesterID,
		BloodType:    bloodType,
		UnitsNeeded:  sub.UnitsNeeded,
		Position:     sub.Position,
		RadiusMeters: sub.RadiusMeters,
		Urgency:      urgency,
		ExpiresAt:    &expires,
	})
	if err != nil {
		return "", s.translate(err, "", "")
	}

	s.cfg.Log.Info("Blood request submitted",
		"request_id", req.ID,
		"requester_id", req.RequesterID,
		"blood_type", req.BloodType.String(),
		"units_needed", req.UnitsNeeded,
		"radius_meters", req.RadiusMeters,
		"urgency", req.Urgency,
		"expires_at", expires,
	)
	return req.ID, nil
}

func (s *matchingService) GetRequest(_ context.Context, requestID string) (model.BloodRequest, error) {
	if requestID == "" {
		return model.BloodRequest{}, apperrors.InvalidInput("Request ID cannot be empty")
	}
	req, err := s.requests.Get(requestID)
	if err != nil {
		return model.BloodRequest{}, s.translate(err, requestID, "")
	}
	return req, nil
}

// Allocate runs one allocation pass. A cancelled context still returns the
// reservations made before it was noticed.
func (s *matchingService) Allocate(ctx context.Context, requestID string) (allocator.AllocationResult, error) {
	if requestID == "" {
		return allocator.AllocationResult{}, apperrors.InvalidInput("Request ID cannot be empty")
	}
	result, err := s.allocator.Allocate(ctx, requestID)
	if err != nil {
		return result, s.translate(err, requestID, "")
	}
	return result, nil
}

func (s *matchingService) ConfirmDonation(_ context.Context, requestID, donorID string) error {
	if requestID == "" || donorID == "" {
		return apperrors.InvalidInput("Request ID and donor ID are required")
	}
	if err := s.requests.ConfirmDonation(requestID, donorID); err != nil {
		return s.translate(err, requestID, donorID)
	}
	s.cfg.Log.Info("Donation confirmed", "request_id", requestID, "donor_id", donorID)
	return nil
}

func (s *matchingService) DeclineReservation(_ context.Context, requestID, donorID string) error {
	if requestID == "" || donorID == "" {
		return apperrors.InvalidInput("Request ID and donor ID are required")
	}
	if err := s.requests.Release(requestID, donorID); err != nil {
		return s.translate(err, requestID, donorID)
	}
	s.cfg.Log.Info("Reservation declined", "request_id", requestID, "donor_id", donorID)
	return nil
}

func (s *matchingService) CancelRequest(_ context.Context, requestID string) error {
	return s.terminal(requestID, "cancelled", s.requests.Cancel)
}

func (s *matchingService) ExpireRequest(_ context.Context, requestID string) error {
	return s.terminal(requestID, "expired", s.requests.Expire)
}

func (s *matchingService) FulfillRequest(_ context.Context, requestID string) error {
	return s.terminal(requestID, "fulfilled", s.requests.Fulfill)
}

func (s *matchingService) terminal(requestID, verb string, apply func(string) error) error {
	if requestID == "" {
		return apperrors.InvalidInput("Request ID cannot be empty")
	}
	if err := apply(requestID); err != nil {
		return s.translate(err, requestID, "")
	}
	s.cfg.Log.Info("Blood request "+verb, "request_id", requestID)
	return nil
}

// translate maps engine errors onto AppErrors for the adapters.
func (s *matchingService) translate(err error, requestID, donorID string) error {
	switch {
	case errors.Is(err, matchingerrors.ErrInvalidRequestParameters):
		return apperrors.Validation("Invalid request parameters", map[string]any{"error": err.Error()})
	case errors.Is(err, matchingerrors.ErrRequestNotFound):
		return apperrors.NotFoundWithID("Blood request", requestID)
	case errors.Is(err, matchingerrors.ErrDonorNotFound):
		return apperrors.NotFoundWithID("Donor", donorID)
	case errors.Is(err, matchingerrors.ErrDonorAlreadyExists):
		return apperrors.Conflict(fmt.Sprintf("Donor %s is already registered", donorID)).WithCause(err)
	case errors.Is(err, matchingerrors.ErrRequestNotAcceptingMatches):
		return apperrors.Conflict("Blood request is not accepting matches").WithCause(err)
	case errors.Is(err, matchingerrors.ErrDonorNotReserved):
		return apperrors.Conflict(fmt.Sprintf("Donor %s is not reserved for this request", donorID)).WithCause(err)
	case errors.Is(err, matchingerrors.ErrInvalidTransition):
		return apperrors.Conflict("Blood request status does not allow this operation").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.Timeout("Operation interrupted before completion").WithCause(err)
	}

	s.cfg.Log.Error("Unexpected matching engine error",
		"request_id", requestID,
		"donor_id", donorID,
		"error", err,
	)
	return apperrors.Internal("Failed to process matching operation", err)
}

func validationError(message string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return apperrors.Validation(message, map[string]any{"fields": verrs})
	}
	return apperrors.Validation(message, map[string]any{"error": err.Error()})
}
