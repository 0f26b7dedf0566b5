package service

import (
	"context"
	"errors"
	"fmt"
	bookingserrors "swimbook/internal/bookings/errors"
	"swimbook/internal/bookings/repository"
	"swimbook/internal/bookings/validator"
	"swimbook/internal/capacity"
	memberserrors "swimbook/internal/members/errors"
	membersrepo "swimbook/internal/members/repository"
	sessionserrors "swimbook/internal/sessions/errors"
	sessionsrepo "swimbook/internal/sessions/repository"
	"swimbook/pkg/config"
	"swimbook/pkg/db"
	apperrors "swimbook/pkg/errors"
	"swimbook/pkg/events"
	"swimbook/pkg/model"
	"swimbook/pkg/sanitizer"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	reasonWaitlistDisabled = "waitlist_disabled"
	reasonWaitlistDeclined = "waitlist_declined"

	publishTimeout = 5 * time.Second
)

// ReservationService is the reservation engine. Every operation that can
// change a session's reserved capacity runs in one transaction that starts
// by fencing the session, and is retried on write conflicts.
type ReservationService interface {
	Create(ctx context.Context, req *model.BookingRequest) (*model.Reservation, error)
	GetByID(ctx context.Context, id string) (*model.BookingDetail, error)
	Cancel(ctx context.Context, id string) (*model.BookingTransition, error)
	CheckIn(ctx context.Context, id string) (*model.BookingTransition, error)
	MarkNoShow(ctx context.Context, id string) (*model.BookingTransition, error)
	CancelSession(ctx context.Context, sessionID string) (*model.SessionCancellation, error)
	PromoteWaitlist(ctx context.Context, sessionID string) (*model.Promotion, error)
	CapacityView(ctx context.Context, sessionID string, asOf *time.Time) (*model.CapacityView, error)
	ListSessionBookings(ctx context.Context, sessionID string, statuses []model.BookingStatus, limit int, offset int64) ([]*model.BookingDetail, int64, error)
	ListMemberBookings(ctx context.Context, memberID string, limit int, offset int64) ([]*model.Booking, int64, error)
}

type reservationService struct {
	bookings  repository.BookingRepository
	sessions  sessionsrepo.SessionRepository
	members   membersrepo.MemberRepository
	viewer    *capacity.Viewer
	txManager db.TransactionManager
	publisher events.Publisher
	validator *validator.BookingValidator
	cfg       *config.Config
	now       func() time.Time
}

func NewReservationService(
	bookings repository.BookingRepository,
	sessions sessionsrepo.SessionRepository,
	members membersrepo.MemberRepository,
	viewer *capacity.Viewer,
	txManager db.TransactionManager,
	publisher events.Publisher,
	validator *validator.BookingValidator,
	cfg *config.Config,
) ReservationService {
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	return &reservationService{
		bookings:  bookings,
		sessions:  sessions,
		members:   members,
		viewer:    viewer,
		txManager: txManager,
		publisher: publisher,
		validator: validator,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func (s *reservationService) Create(ctx context.Context, req *model.BookingRequest) (*model.Reservation, error) {
	s.sanitize(req)
	if err := s.validator.ValidateRequest(req); err != nil {
		s.cfg.Log.Warn("Booking request validation failed",
			"session_id", req.SessionID,
			"member_id", req.MemberID,
			"num_spots", req.NumSpots,
			"error", err,
		)
		return nil, apperrors.Validation("Booking validation failed", map[string]any{
			"error": err.Error(),
		})
	}

	if _, err := s.members.FindByID(ctx, req.MemberID); err != nil {
		return nil, s.translateMember(err, req.MemberID)
	}

	allowWaitlist := s.cfg.WaitlistEnabled && (req.AllowWaitlist == nil || *req.AllowWaitlist)

	var result *model.Reservation
	err := s.withRetry(ctx, "create booking", func(txCtx context.Context) error {
		session, err := s.sessions.Fence(txCtx, req.SessionID)
		if err != nil {
			return s.translateSession(err, req.SessionID)
		}
		if session.Status != model.SessionScheduled {
			return apperrors.StateLocked("Bookings can only be made for scheduled sessions", map[string]any{
				"session_id": session.ID,
				"status":     string(session.Status),
			})
		}

		view, err := s.viewer.ViewOf(txCtx, session, nil)
		if err != nil {
			return err
		}

		now := s.now()
		status := model.BookingBooked
		if !view.Fits(req.NumSpots) {
			if !allowWaitlist {
				reason := reasonWaitlistDeclined
				if !s.cfg.WaitlistEnabled {
					reason = reasonWaitlistDisabled
				}
				return apperrors.SessionFull("Session does not have enough remaining spots", map[string]any{
					"reason":     reason,
					"session_id": session.ID,
					"requested":  req.NumSpots,
					"capacity":   view.Capacity,
					"reserved":   view.Reserved,
					"remaining":  view.Remaining,
				})
			}
			status = model.BookingWaitlist
		}

		booking := &model.Booking{
			SessionID: session.ID,
			MemberID:  req.MemberID,
			NumSpots:  req.NumSpots,
			Status:    status,
			BookedAt:  now,
			Notes:     req.Notes,
			History:   []model.StatusChange{{Status: status, At: now}},
		}
		if err := s.bookings.Insert(txCtx, booking); err != nil {
			return err
		}

		refreshed, err := s.viewer.ViewOf(txCtx, session, nil)
		if err != nil {
			return err
		}
		result = &model.Reservation{Booking: booking, View: refreshed}
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "Failed to create booking",
			"session_id", req.SessionID,
			"member_id", req.MemberID,
			"num_spots", req.NumSpots,
		)
	}

	eventType := model.EventBookingCreated
	if result.Booking.Status == model.BookingWaitlist {
		eventType = model.EventBookingWaitlisted
	}
	s.publish(ctx, model.NewBookingEvent(eventType, result.Booking, "", result.Booking.BookedAt))

	s.cfg.Log.Info("Booking created successfully",
		"id", result.Booking.ID,
		"session_id", result.Booking.SessionID,
		"member_id", result.Booking.MemberID,
		"num_spots", result.Booking.NumSpots,
		"status", result.Booking.Status,
		"remaining", result.View.Remaining,
	)
	return result, nil
}

func (s *reservationService) GetByID(ctx context.Context, id string) (*model.BookingDetail, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}

	booking, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		return nil, s.fail(s.translateBooking(err, id), "Failed to retrieve booking", "id", id)
	}

	details := s.withMembers(ctx, []*model.Booking{booking})
	return details[0], nil
}

func (s *reservationService) Cancel(ctx context.Context, id string) (*model.BookingTransition, error) {
	return s.transition(ctx, id, model.BookingCancelled, model.EventBookingCancelled)
}

func (s *reservationService) CheckIn(ctx context.Context, id string) (*model.BookingTransition, error) {
	return s.transition(ctx, id, model.BookingCheckedIn, model.EventBookingCheckedIn)
}

func (s *reservationService) MarkNoShow(ctx context.Context, id string) (*model.BookingTransition, error) {
	return s.transition(ctx, id, model.BookingNoShow, model.EventBookingNoShow)
}

// transition moves a booking to a new status. When the booking held capacity
// and no longer does, waitlisted bookings are promoted in the same transaction.
func (s *reservationService) transition(ctx context.Context, id string, to model.BookingStatus, eventType string) (*model.BookingTransition, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}

	var result *model.BookingTransition
	err := s.withRetry(ctx, "update booking status", func(txCtx context.Context) error {
		current, err := s.bookings.FindByID(txCtx, id)
		if err != nil {
			return s.translateBooking(err, id)
		}
		if !current.Status.CanTransitionTo(to) {
			return apperrors.InvalidTransition("booking", string(current.Status), string(to))
		}

		session, err := s.sessions.Fence(txCtx, current.SessionID)
		if err != nil {
			return s.translateSession(err, current.SessionID)
		}

		now := s.now()
		updated, err := s.bookings.UpdateStatus(txCtx, id, current.Status, to, now)
		if err != nil {
			return s.translateBooking(err, id)
		}

		var promoted []*model.Booking
		if current.Status.IsActive() && !to.IsActive() {
			promoted, err = s.promote(txCtx, session, now)
			if err != nil {
				return err
			}
		}

		view, err := s.viewer.ViewOf(txCtx, session, nil)
		if err != nil {
			return err
		}

		result = &model.BookingTransition{
			Booking:        updated,
			PreviousStatus: current.Status,
			Promoted:       promoted,
			View:           view,
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "Failed to update booking status", "id", id, "to", to)
	}

	at := result.Booking.History[len(result.Booking.History)-1].At
	s.publish(ctx, model.NewBookingEvent(eventType, result.Booking, result.PreviousStatus, at))
	s.publishPromotions(ctx, result.Promoted)

	s.cfg.Log.Info("Booking status updated",
		"id", id,
		"from", result.PreviousStatus,
		"to", to,
		"promoted", len(result.Promoted),
		"remaining", result.View.Remaining,
	)
	return result, nil
}

// CancelSession marks the session cancelled, then cancels its open bookings
// in batches. Each batch commits on its own, so an interrupted run leaves a
// consistent ledger and a rerun sweeps what is left.
func (s *reservationService) CancelSession(ctx context.Context, sessionID string) (*model.SessionCancellation, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("Session ID cannot be empty")
	}

	var session *model.Session
	var alreadyCancelled bool
	err := s.withRetry(ctx, "cancel session", func(txCtx context.Context) error {
		current, err := s.sessions.Fence(txCtx, sessionID)
		if err != nil {
			return s.translateSession(err, sessionID)
		}
		if current.Status == model.SessionCancelled {
			session, alreadyCancelled = current, true
			return nil
		}
		if !current.Status.CanTransitionTo(model.SessionCancelled) {
			return apperrors.InvalidTransition("session", string(current.Status), string(model.SessionCancelled))
		}

		session, err = s.sessions.SetStatus(txCtx, sessionID, current.Status, model.SessionCancelled, s.now())
		if err != nil {
			return s.translateSession(err, sessionID)
		}
		alreadyCancelled = false
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "Failed to cancel session", "session_id", sessionID)
	}

	if !alreadyCancelled {
		s.publish(ctx, model.BookingEvent{
			Type:       model.EventSessionCancelled,
			SessionID:  sessionID,
			OccurredAt: session.UpdatedAt,
		})
	}

	total := 0
	for {
		batch, err := s.cancelBatch(ctx, sessionID)
		if err != nil {
			s.cfg.Log.Error("Session cancellation interrupted, rerun to finish",
				"session_id", sessionID,
				"cancelled_bookings", total,
				"error", err,
			)
			return nil, s.fail(err, "Failed to cancel session bookings", "session_id", sessionID)
		}

		for _, change := range batch {
			s.publish(ctx, model.NewBookingEvent(model.EventBookingCancelled, change.booking, change.from, *change.booking.CancelledAt))
		}
		total += len(batch)
		if len(batch) < s.cfg.CascadeBatchSize {
			break
		}
	}

	s.cfg.Log.Info("Session cancelled",
		"session_id", sessionID,
		"already_cancelled", alreadyCancelled,
		"cancelled_bookings", total,
	)
	return &model.SessionCancellation{Session: session, CancelledBookings: total}, nil
}

type statusChange struct {
	booking *model.Booking
	from    model.BookingStatus
}

func (s *reservationService) cancelBatch(ctx context.Context, sessionID string) ([]statusChange, error) {
	var batch []statusChange
	err := s.withRetry(ctx, "cancel session bookings", func(txCtx context.Context) error {
		batch = nil
		if _, err := s.sessions.Fence(txCtx, sessionID); err != nil {
			return s.translateSession(err, sessionID)
		}

		open, err := s.bookings.FindBySession(txCtx, sessionID, model.OpenStatuses, s.cfg.CascadeBatchSize, 0)
		if err != nil {
			return err
		}

		now := s.now()
		for _, booking := range open {
			updated, err := s.bookings.UpdateStatus(txCtx, booking.ID, booking.Status, model.BookingCancelled, now)
			if err != nil {
				return s.translateBooking(err, booking.ID)
			}
			batch = append(batch, statusChange{booking: updated, from: booking.Status})
		}
		return nil
	})
	return batch, err
}

func (s *reservationService) PromoteWaitlist(ctx context.Context, sessionID string) (*model.Promotion, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("Session ID cannot be empty")
	}

	var result *model.Promotion
	err := s.withRetry(ctx, "promote waitlist", func(txCtx context.Context) error {
		session, err := s.sessions.Fence(txCtx, sessionID)
		if err != nil {
			return s.translateSession(err, sessionID)
		}
		if session.Status != model.SessionScheduled {
			return apperrors.StateLocked("Waitlist can only be promoted for scheduled sessions", map[string]any{
				"session_id": session.ID,
				"status":     string(session.Status),
			})
		}

		promoted, err := s.promote(txCtx, session, s.now())
		if err != nil {
			return err
		}
		view, err := s.viewer.ViewOf(txCtx, session, nil)
		if err != nil {
			return err
		}

		if promoted == nil {
			promoted = []*model.Booking{}
		}
		result = &model.Promotion{SessionID: sessionID, Promoted: promoted, View: view}
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "Failed to promote waitlist", "session_id", sessionID)
	}

	s.publishPromotions(ctx, result.Promoted)
	s.cfg.Log.Info("Waitlist promotion finished",
		"session_id", sessionID,
		"promoted", len(result.Promoted),
		"remaining", result.View.Remaining,
	)
	return result, nil
}

// promote moves waitlisted bookings to booked in ledger order while they fit.
// The view is re-read after every promotion and a booking is never split.
// Under first_fit a booking that does not fit is skipped; under strict_fifo
// it stops the scan.
func (s *reservationService) promote(ctx context.Context, session *model.Session, at time.Time) ([]*model.Booking, error) {
	if session.Status != model.SessionScheduled {
		return nil, nil
	}

	view, err := s.viewer.ViewOf(ctx, session, nil)
	if err != nil {
		return nil, err
	}

	var promoted []*model.Booking
	for waiting, err := range s.bookings.Stream(ctx, session.ID, model.BookingWaitlist) {
		if err != nil {
			return nil, err
		}
		if view.Remaining <= 0 {
			break
		}
		if !view.Fits(waiting.NumSpots) {
			if s.cfg.PromotionPolicy == config.PromotionStrictFIFO {
				break
			}
			continue
		}

		updated, err := s.bookings.UpdateStatus(ctx, waiting.ID, model.BookingWaitlist, model.BookingBooked, at)
		if err != nil {
			return nil, s.translateBooking(err, waiting.ID)
		}
		promoted = append(promoted, updated)

		view, err = s.viewer.ViewOf(ctx, session, nil)
		if err != nil {
			return nil, err
		}
	}
	return promoted, nil
}

func (s *reservationService) CapacityView(ctx context.Context, sessionID string, asOf *time.Time) (*model.CapacityView, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("Session ID cannot be empty")
	}

	view, err := s.viewer.View(ctx, sessionID, asOf)
	if err != nil {
		return nil, s.fail(s.translateSession(err, sessionID), "Failed to compute capacity view", "session_id", sessionID)
	}
	if view.Overbooked {
		s.cfg.Log.Warn("Session is overbooked after a capacity reduction",
			"session_id", sessionID,
			"capacity", view.Capacity,
			"reserved", view.Reserved,
		)
	}
	return view, nil
}

func (s *reservationService) ListSessionBookings(ctx context.Context, sessionID string, statuses []model.BookingStatus, limit int, offset int64) ([]*model.BookingDetail, int64, error) {
	if sessionID == "" {
		return nil, 0, apperrors.InvalidInput("Session ID cannot be empty")
	}
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	if _, err := s.sessions.FindByID(ctx, sessionID); err != nil {
		return nil, 0, s.fail(s.translateSession(err, sessionID), "Failed to list session bookings", "session_id", sessionID)
	}

	var count int64
	var bookings []*model.Booking
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		count, err = s.bookings.CountBySession(gctx, sessionID, statuses)
		return err
	})
	g.Go(func() error {
		var err error
		bookings, err = s.bookings.FindBySession(gctx, sessionID, statuses, limit, offset)
		return err
	})
	if err := g.Wait(); err != nil {
		s.cfg.Log.Error("Failed to list session bookings",
			"session_id", sessionID,
			"limit", limit,
			"offset", offset,
			"error", err,
		)
		return nil, 0, apperrors.Internal("Failed to retrieve bookings", err)
	}

	return s.withMembers(ctx, bookings), count, nil
}

func (s *reservationService) ListMemberBookings(ctx context.Context, memberID string, limit int, offset int64) ([]*model.Booking, int64, error) {
	if memberID == "" {
		return nil, 0, apperrors.InvalidInput("Member ID cannot be empty")
	}
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	if _, err := s.members.FindByID(ctx, memberID); err != nil {
		return nil, 0, s.translateMember(err, memberID)
	}

	var count int64
	var bookings []*model.Booking
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		count, err = s.bookings.CountByMember(gctx, memberID)
		return err
	})
	g.Go(func() error {
		var err error
		bookings, err = s.bookings.FindByMember(gctx, memberID, limit, offset)
		return err
	})
	if err := g.Wait(); err != nil {
		s.cfg.Log.Error("Failed to list member bookings",
			"member_id", memberID,
			"limit", limit,
			"offset", offset,
			"error", err,
		)
		return nil, 0, apperrors.Internal("Failed to retrieve bookings", err)
	}

	return bookings, count, nil
}

// withMembers fills in member display fields. A directory failure only costs
// the display fields, the bookings are still returned.
func (s *reservationService) withMembers(ctx context.Context, bookings []*model.Booking) []*model.BookingDetail {
	details := make([]*model.BookingDetail, len(bookings))
	ids := make([]string, len(bookings))
	for i, b := range bookings {
		details[i] = &model.BookingDetail{Booking: b}
		ids[i] = b.MemberID
	}
	if len(bookings) == 0 {
		return details
	}

	members, err := s.members.FindByIDs(ctx, sanitizer.NormalizeIDs(ids))
	if err != nil {
		s.cfg.Log.Warn("Failed to load member details for bookings", "error", err)
		return details
	}
	for _, d := range details {
		if m, ok := members[d.MemberID]; ok {
			d.MemberName = m.DisplayName()
			d.MemberEmail = m.Email
		}
	}
	return details
}

// withRetry runs fn in a transaction, retrying write conflicts up to
// MaxWriteAttempts times with a linear backoff.
func (s *reservationService) withRetry(ctx context.Context, operation string, fn db.TransactionFunc) error {
	var err error
	for attempt := 1; attempt <= s.cfg.MaxWriteAttempts; attempt++ {
		err = s.txManager.ExecuteTransaction(ctx, fn)
		if !errors.Is(err, db.ErrWriteConflict) {
			return err
		}

		s.cfg.Log.Warn("Write conflict, retrying",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", s.cfg.MaxWriteAttempts,
		)
		if attempt == s.cfg.MaxWriteAttempts {
			break
		}
		if waitErr := s.backoff(ctx, attempt); waitErr != nil {
			return waitErr
		}
	}
	return apperrors.CapacityConflict("Too many concurrent changes to this session, try again", err)
}

func (s *reservationService) backoff(ctx context.Context, attempt int) error {
	delay := s.cfg.WriteConflictBackoff * time.Duration(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fail converts an error leaving the engine into an AppError and logs it at
// a level matching its kind.
func (s *reservationService) fail(err error, message string, args ...any) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.cfg.Log.Warn(message, append(args, "error", err)...)
		return apperrors.Timeout("Request was cancelled before the change committed")
	case apperrors.IsAppError(err):
		appErr := apperrors.AsAppError(err)
		if appErr.Code == apperrors.CodeInternal {
			s.cfg.Log.Error(message, append(args, "error", err)...)
		} else {
			s.cfg.Log.Warn(message, append(args, "error", err)...)
		}
		return appErr
	}
	s.cfg.Log.Error(message, append(args, "error", err)...)
	return apperrors.Internal(message, err)
}

// A stale conditional update means another writer got in first; it is
// retried like any other write conflict.
func (s *reservationService) translateBooking(err error, id string) error {
	switch {
	case errors.Is(err, bookingserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Booking", id)
	case errors.Is(err, bookingserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid booking ID format")
	case errors.Is(err, bookingserrors.ErrStatusChanged):
		return fmt.Errorf("%w: %w", db.ErrWriteConflict, err)
	}
	return err
}

func (s *reservationService) translateSession(err error, id string) error {
	switch {
	case errors.Is(err, sessionserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Session", id)
	case errors.Is(err, sessionserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid session ID format")
	case errors.Is(err, sessionserrors.ErrStatusChanged):
		return fmt.Errorf("%w: %w", db.ErrWriteConflict, err)
	}
	return err
}

func (s *reservationService) translateMember(err error, id string) error {
	switch {
	case errors.Is(err, memberserrors.ErrNotFound):
		s.cfg.Log.Warn("Member not found", "member_id", id)
		return apperrors.NotFoundWithID("Member", id)
	case errors.Is(err, memberserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid member ID format")
	}
	s.cfg.Log.Error("Failed to look up member", "member_id", id, "error", err)
	return apperrors.Internal("Failed to look up member", err)
}

func (s *reservationService) publishPromotions(ctx context.Context, promoted []*model.Booking) {
	for _, b := range promoted {
		at := b.History[len(b.History)-1].At
		s.publish(ctx, model.NewBookingEvent(model.EventBookingPromoted, b, model.BookingWaitlist, at))
	}
}

// publish runs after commit and detaches from the request's cancellation.
// A failed publish is logged and never undoes the committed change.
func (s *reservationService) publish(ctx context.Context, event model.BookingEvent) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.cfg.Log.Error("Failed to publish booking event",
			"type", event.Type,
			"booking_id", event.BookingID,
			"session_id", event.SessionID,
			"error", err,
		)
	}
}

func (s *reservationService) sanitize(req *model.BookingRequest) {
	req.SessionID = sanitizer.TrimAndNormalize(req.SessionID)
	req.MemberID = sanitizer.TrimAndNormalize(req.MemberID)
	req.Notes = sanitizer.NormalizeNotes(req.Notes)
}
