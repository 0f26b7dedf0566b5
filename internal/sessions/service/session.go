package service

import (
	"context"
	"errors"
	"swimbook/internal/capacity"
	sessionserrors "swimbook/internal/sessions/errors"
	"swimbook/internal/sessions/repository"
	"swimbook/internal/sessions/validator"
	"swimbook/pkg/config"
	"swimbook/pkg/db"
	apperrors "swimbook/pkg/errors"
	"swimbook/pkg/model"
	"swimbook/pkg/sanitizer"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const viewConcurrency = 8

type SessionService interface {
	Create(ctx context.Context, session *model.Session) (*model.SessionWithCapacity, error)
	GetByID(ctx context.Context, id string) (*model.SessionWithCapacity, error)
	GetAll(ctx context.Context, filter model.SessionFilter, limit int, offset int64) ([]*model.SessionWithCapacity, int64, error)
	Update(ctx context.Context, id string, updates *model.SessionUpdate) (*model.SessionWithCapacity, error)
	SetStatus(ctx context.Context, id string, status model.SessionStatus) (*model.SessionWithCapacity, error)
}

// SessionCanceller cascades a session cancellation to its bookings.
type SessionCanceller interface {
	CancelSession(ctx context.Context, sessionID string) (*model.SessionCancellation, error)
}

type sessionService struct {
	repo      repository.SessionRepository
	viewer    *capacity.Viewer
	txManager db.TransactionManager
	canceller SessionCanceller
	validator *validator.SessionValidator
	cfg       *config.Config
	now       func() time.Time
}

func NewSessionService(
	repo repository.SessionRepository,
	viewer *capacity.Viewer,
	txManager db.TransactionManager,
	canceller SessionCanceller,
	validator *validator.SessionValidator,
	cfg *config.Config,
) SessionService {
	return &sessionService{
		repo:      repo,
		viewer:    viewer,
		txManager: txManager,
		canceller: canceller,
		validator: validator,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func (s *sessionService) Create(ctx context.Context, session *model.Session) (*model.SessionWithCapacity, error) {
	s.sanitize(session)
	if session.Status == "" {
		session.Status = model.SessionScheduled
	}
	session.StartTime = session.StartTime.UTC()
	session.EndTime = session.EndTime.UTC()

	if err := s.validator.Validate(session); err != nil {
		s.cfg.Log.Warn("Session validation failed",
			"title", session.Title,
			"error", err,
		)
		return nil, apperrors.Validation("Session validation failed", map[string]any{
			"error": err.Error(),
		})
	}
	if session.Status != model.SessionDraft && session.Status != model.SessionScheduled {
		return nil, apperrors.InvalidInput("Sessions can only be created as draft or scheduled")
	}

	now := s.now()
	session.CreatedAt = now
	session.UpdatedAt = now
	session.Version = 0

	err := s.txManager.ExecuteTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.FindByStartTime(txCtx, session.StartTime)
		if err != nil {
			s.cfg.Log.Error("Failed to check for duplicate sessions", "error", err)
			return apperrors.Internal("Failed to check for existing sessions", err)
		}
		for _, e := range existing {
			if e.Status != model.SessionCancelled &&
				sanitizer.NormalizeNameForComparison(e.Title) == sanitizer.NormalizeNameForComparison(session.Title) {
				return apperrors.Conflict("A session with the same title already starts at this time")
			}
		}

		if err := s.repo.Create(txCtx, session); err != nil {
			if errors.Is(err, sessionserrors.ErrDuplicate) {
				return apperrors.Conflict("A session with the same title already starts at this time")
			}
			s.cfg.Log.Error("Failed to create session",
				"title", session.Title,
				"error", err,
			)
			return apperrors.Internal("Failed to create session", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrWriteConflict) {
			return nil, apperrors.CapacityConflict("Session was created concurrently, retry", err)
		}
		return nil, err
	}

	s.cfg.Log.Info("Session created successfully",
		"id", session.ID,
		"title", session.Title,
		"capacity", session.Capacity,
		"status", session.Status,
	)
	return s.withView(ctx, session)
}

func (s *sessionService) GetByID(ctx context.Context, id string) (*model.SessionWithCapacity, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Session ID cannot be empty")
	}

	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, id, "get")
	}

	return s.withView(ctx, session)
}

func (s *sessionService) GetAll(ctx context.Context, filter model.SessionFilter, limit int, offset int64) ([]*model.SessionWithCapacity, int64, error) {
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)
	filter.Instructor = sanitizer.NormalizeName(filter.Instructor)

	sharedCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	var count int64
	var sessions []*model.Session
	var errCount, errFind error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		var err error
		count, err = s.repo.Count(sharedCtx, filter)
		if err != nil {
			s.cfg.Log.Error("Failed to count sessions", "error", err)
			errCount = apperrors.Internal("Failed to count sessions", err)
		}
	}()

	go func() {
		defer wg.Done()
		var err error
		sessions, err = s.repo.FindAll(sharedCtx, filter, limit, offset)
		if err != nil {
			s.cfg.Log.Error("Failed to get all sessions",
				"statuses", filter.Statuses,
				"instructor", filter.Instructor,
				"limit", limit,
				"offset", offset,
				"error", err,
			)
			errFind = apperrors.Internal("Failed to retrieve sessions", err)
		}
	}()

	wg.Wait()
	if errCount != nil {
		return nil, 0, errCount
	}
	if errFind != nil {
		return nil, 0, errFind
	}

	results := make([]*model.SessionWithCapacity, len(sessions))
	g, gctx := errgroup.WithContext(sharedCtx)
	g.SetLimit(viewConcurrency)
	for i, session := range sessions {
		g.Go(func() error {
			view, err := s.viewer.ViewOf(gctx, session, nil)
			if err != nil {
				return err
			}
			results[i] = &model.SessionWithCapacity{Session: session, View: view}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.cfg.Log.Error("Failed to compute capacity views", "error", err)
		return nil, 0, apperrors.Internal("Failed to compute capacity views", err)
	}

	return results, count, nil
}

func (s *sessionService) Update(ctx context.Context, id string, updates *model.SessionUpdate) (*model.SessionWithCapacity, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Session ID cannot be empty")
	}

	s.sanitizeUpdate(updates)
	if err := s.validator.ValidateUpdate(updates); err != nil {
		s.cfg.Log.Warn("Session update validation failed", "id", id, "error", err)
		return nil, apperrors.Validation("Session validation failed", map[string]any{
			"error": err.Error(),
		})
	}

	var merged *model.Session
	err := s.txManager.ExecuteTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.Fence(txCtx, id)
		if err != nil {
			return s.translate(err, id, "update")
		}

		if existing.Status.IsTerminal() && touchesSchedule(updates) {
			return apperrors.StateLocked("Capacity and time window of a "+string(existing.Status)+" session cannot change", map[string]any{
				"resource": "session",
				"status":   string(existing.Status),
			})
		}

		merged = mergeSessionUpdates(existing, updates)
		merged.UpdatedAt = s.now()
		if err := s.validator.Validate(merged); err != nil {
			s.cfg.Log.Warn("Session validation failed",
				"id", id,
				"title", merged.Title,
				"error", err,
			)
			return apperrors.Validation("Session validation failed", map[string]any{
				"error": err.Error(),
			})
		}

		if err := s.repo.Update(txCtx, id, merged); err != nil {
			return s.translate(err, id, "update")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrWriteConflict) {
			return nil, apperrors.CapacityConflict("Session was modified concurrently, retry the update", err)
		}
		return nil, err
	}

	result, err := s.withView(ctx, merged)
	if err != nil {
		return nil, err
	}
	if result.View.Overbooked {
		s.cfg.Log.Warn("Session capacity lowered below reserved spots",
			"id", id,
			"capacity", result.View.Capacity,
			"reserved", result.View.Reserved,
		)
	}

	s.cfg.Log.Info("Session updated successfully", "id", id, "title", merged.Title)
	return result, nil
}

func (s *sessionService) SetStatus(ctx context.Context, id string, status model.SessionStatus) (*model.SessionWithCapacity, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Session ID cannot be empty")
	}
	if _, err := model.ParseSessionStatus(string(status)); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if status == model.SessionCancelled {
		result, err := s.canceller.CancelSession(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.withView(ctx, result.Session)
	}

	var updated *model.Session
	err := s.txManager.ExecuteTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.Fence(txCtx, id)
		if err != nil {
			return s.translate(err, id, "update status of")
		}
		if !existing.Status.CanTransitionTo(status) {
			return apperrors.InvalidTransition("session", string(existing.Status), string(status))
		}
		updated, err = s.repo.SetStatus(txCtx, id, existing.Status, status, s.now())
		if err != nil {
			return s.translate(err, id, "update status of")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrWriteConflict) {
			return nil, apperrors.CapacityConflict("Session was modified concurrently, retry the status change", err)
		}
		if apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
			s.cfg.Log.Warn("Rejected session status change", "id", id, "to", status, "error", err)
		}
		return nil, err
	}

	s.cfg.Log.Info("Session status updated", "id", id, "status", status)
	return s.withView(ctx, updated)
}

func (s *sessionService) withView(ctx context.Context, session *model.Session) (*model.SessionWithCapacity, error) {
	view, err := s.viewer.ViewOf(ctx, session, nil)
	if err != nil {
		s.cfg.Log.Error("Failed to compute capacity view", "id", session.ID, "error", err)
		return nil, apperrors.Internal("Failed to compute capacity view", err)
	}
	return &model.SessionWithCapacity{Session: session, View: view}, nil
}

func (s *sessionService) translate(err error, id, action string) error {
	switch {
	case apperrors.IsAppError(err):
		return err
	case errors.Is(err, sessionserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Session", id)
	case errors.Is(err, sessionserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid session ID format")
	case errors.Is(err, sessionserrors.ErrDuplicate):
		return apperrors.Conflict("A session with the same title already starts at this time")
	case errors.Is(err, sessionserrors.ErrStatusChanged):
		return apperrors.CapacityConflict("Session status changed concurrently", err)
	case errors.Is(err, db.ErrWriteConflict), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	s.cfg.Log.Error("Failed to "+action+" session", "id", id, "error", err)
	return apperrors.Internal("Failed to "+action+" session", err)
}

func (s *sessionService) sanitize(session *model.Session) {
	session.Title = sanitizer.NormalizeName(session.Title)
	session.Location = sanitizer.TrimAndNormalize(session.Location)
	session.Instructor = sanitizer.NormalizeName(session.Instructor)
	session.Description = sanitizer.NormalizeNotes(session.Description)
}

func (s *sessionService) sanitizeUpdate(updates *model.SessionUpdate) {
	if updates.Title != "" {
		updates.Title = sanitizer.NormalizeName(updates.Title)
	}
	if updates.Location != nil {
		v := sanitizer.TrimAndNormalize(*updates.Location)
		updates.Location = &v
	}
	if updates.Instructor != nil {
		v := sanitizer.NormalizeName(*updates.Instructor)
		updates.Instructor = &v
	}
	if updates.Description != nil {
		v := sanitizer.NormalizeNotes(*updates.Description)
		updates.Description = &v
	}
}

func touchesSchedule(updates *model.SessionUpdate) bool {
	return updates.Capacity != nil || updates.StartTime != nil || updates.EndTime != nil
}

func mergeSessionUpdates(existing *model.Session, updates *model.SessionUpdate) *model.Session {
	merged := *existing

	if updates.Title != "" {
		merged.Title = updates.Title
	}
	if updates.Description != nil {
		merged.Description = *updates.Description
	}
	if updates.Location != nil {
		merged.Location = *updates.Location
	}
	if updates.Instructor != nil {
		merged.Instructor = *updates.Instructor
	}
	if updates.StartTime != nil {
		merged.StartTime = updates.StartTime.UTC()
	}
	if updates.EndTime != nil {
		merged.EndTime = updates.EndTime.UTC()
	}
	if updates.Capacity != nil {
		merged.Capacity = *updates.Capacity
	}

	return &merged
}
