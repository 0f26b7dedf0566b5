// Package capacity derives a session's capacity view from the booking ledger.
// Nothing here is cached: every view is recomputed from the ledger.
package capacity

import (
	"context"
	"swimbook/pkg/model"
	"time"
)

type SessionReader interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

type SpotCounter interface {
	SumActiveSpots(ctx context.Context, sessionID string, asOf *time.Time) (int, error)
}

type Viewer struct {
	sessions SessionReader
	ledger   SpotCounter
}

func NewViewer(sessions SessionReader, ledger SpotCounter) *Viewer {
	return &Viewer{sessions: sessions, ledger: ledger}
}

// View loads the session and computes its view. Repository errors are
// returned unchanged for the caller to translate.
func (v *Viewer) View(ctx context.Context, sessionID string, asOf *time.Time) (*model.CapacityView, error) {
	session, err := v.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return v.ViewOf(ctx, session, asOf)
}

// ViewOf computes the view for an already loaded session. The session's
// current capacity is used even for asOf reads.
func (v *Viewer) ViewOf(ctx context.Context, session *model.Session, asOf *time.Time) (*model.CapacityView, error) {
	reserved, err := v.ledger.SumActiveSpots(ctx, session.ID, asOf)
	if err != nil {
		return nil, err
	}
	return Compute(session, reserved, asOf), nil
}

func Compute(session *model.Session, reserved int, asOf *time.Time) *model.CapacityView {
	view := &model.CapacityView{
		SessionID: session.ID,
		Capacity:  session.Capacity,
		Reserved:  reserved,
		Remaining: session.Capacity - reserved,
		AsOf:      asOf,
	}
	if view.Remaining < 0 {
		view.Overbooked = true
		view.Advisory = model.AdvisoryCapacityExceeded
	}
	return view
}
