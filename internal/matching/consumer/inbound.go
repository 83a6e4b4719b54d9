// Package consumer applies inbound Kafka events from the notification and
// donor-app layers to the matching engine.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"bloodmatch/internal/matching/metrics"
	"bloodmatch/internal/matching/service"
	apperrors "bloodmatch/pkg/errors"
	"bloodmatch/pkg/kafka"
	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"
)

const (
	EventDonorLocationUpdated = "donor.location_updated"
	EventReservationDeclined  = "reservation.declined"
	EventDonationConfirmed    = "donation.confirmed"
	EventRequestCancelled     = "request.cancelled"
)

const (
	resultApplied  = "applied"
	resultIgnored  = "ignored"
	resultRejected = "rejected"
	resultFailed   = "failed"
)

type LocationUpdated struct {
	DonorID  string         `json:"donor_id"`
	Position model.Position `json:"position"`
}

type ReservationEvent struct {
	RequestID string `json:"request_id"`
	DonorID   string `json:"donor_id"`
}

type RequestEvent struct {
	RequestID string `json:"request_id"`
}

type InboundHandler struct {
	service service.MatchingService
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewInboundHandler(svc service.MatchingService, m *metrics.Metrics, log *logger.Logger) *InboundHandler {
	return &InboundHandler{
		service: svc,
		metrics: m,
		log:     log,
	}
}

// Handle is a kafka.MessageHandler. Conflicts are acknowledged since they
// mean the event lost a race the engine already settled; unknown ids and
// invalid payloads are dead-lettered; anything else is retried.
func (h *InboundHandler) Handle(ctx context.Context, msg kafka.Message) error {
	eventType := msg.GetEventType()

	err := h.dispatch(ctx, eventType, msg)
	if err == nil {
		h.metrics.IncrementInbound(eventType, resultApplied)
		return nil
	}

	var kafkaErr *kafka.KafkaError
	if errors.As(err, &kafkaErr) {
		h.metrics.IncrementInbound(eventType, resultRejected)
		return kafkaErr
	}

	appErr := apperrors.AsAppError(err)
	switch appErr.StatusCode() {
	case http.StatusConflict:
		h.log.Warn("Inbound event ignored",
			"event_type", eventType,
			"event_id", msg.GetEventID(),
			"reason", appErr.Message,
		)
		h.metrics.IncrementInbound(eventType, resultIgnored)
		return nil
	case http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusBadRequest:
		h.metrics.IncrementInbound(eventType, resultRejected)
		return kafka.NewBusinessError(fmt.Sprintf("%s rejected", eventType), err).
			WithDetail("event_id", msg.GetEventID())
	default:
		h.metrics.IncrementInbound(eventType, resultFailed)
		return kafka.NewTransientError(fmt.Sprintf("%s failed", eventType), err)
	}
}

func (h *InboundHandler) dispatch(ctx context.Context, eventType string, msg kafka.Message) error {
	switch eventType {
	case EventDonorLocationUpdated:
		var payload LocationUpdated
		if err := decode(&msg, &payload); err != nil {
			return err
		}
		_, err := h.service.UpdateDonorLocation(ctx, payload.DonorID, payload.Position)
		return err

	case EventReservationDeclined:
		var payload ReservationEvent
		if err := decode(&msg, &payload); err != nil {
			return err
		}
		return h.service.DeclineReservation(ctx, payload.RequestID, payload.DonorID)

	case EventDonationConfirmed:
		var payload ReservationEvent
		if err := decode(&msg, &payload); err != nil {
			return err
		}
		return h.service.ConfirmDonation(ctx, payload.RequestID, payload.DonorID)

	case EventRequestCancelled:
		var payload RequestEvent
		if err := decode(&msg, &payload); err != nil {
			return err
		}
		return h.service.CancelRequest(ctx, payload.RequestID)
	}

	return kafka.NewPermanentError(fmt.Sprintf("unknown event type %q", eventType), kafka.ErrInvalidMessage)
}

func decode(msg *kafka.Message, dst any) error {
	if len(msg.Value) == 0 {
		return kafka.NewPermanentError("empty payload", kafka.ErrEmptyValue)
	}
	if err := msg.DecodeValue(dst); err != nil {
		return kafka.NewPermanentError("malformed payload", err)
	}
	return nil
}
