package service

import (
	"context"
	"errors"
	"io"
	"swimbook/internal/bookings/repository"
	"swimbook/internal/bookings/validator"
	"swimbook/internal/capacity"
	membersrepo "swimbook/internal/members/repository"
	sessionsrepo "swimbook/internal/sessions/repository"
	"swimbook/pkg/config"
	"swimbook/pkg/db"
	"swimbook/pkg/db/memory"
	apperrors "swimbook/pkg/errors"
	"swimbook/pkg/logger"
	"swimbook/pkg/model"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances one second per call so ledger order is deterministic.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.BookingEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event model.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type mockTxManager struct {
	executeFunc func(ctx context.Context, fn db.TransactionFunc) error
}

func (m *mockTxManager) ExecuteTransaction(ctx context.Context, fn db.TransactionFunc) error {
	return m.executeFunc(ctx, fn)
}

// failingLedger fails status updates once failAfter updates have succeeded.
type failingLedger struct {
	repository.MemoryBookingRepository
	mu        sync.Mutex
	updates   int
	failAfter int
}

func (l *failingLedger) UpdateStatus(ctx context.Context, id string, from, to model.BookingStatus, at time.Time) (*model.Booking, error) {
	l.mu.Lock()
	l.updates++
	fail := l.failAfter > 0 && l.updates > l.failAfter
	l.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return l.MemoryBookingRepository.UpdateStatus(ctx, id, from, to, at)
}

type fixture struct {
	svc       *reservationService
	cfg       *config.Config
	sessions  sessionsrepo.MemorySessionRepository
	bookings  repository.MemoryBookingRepository
	members   *membersrepo.MemoryMemberRepository
	txManager *memory.TransactionManager
	publisher *recordingPublisher
	clock     *testClock
}

func testConfig() *config.Config {
	return &config.Config{
		Log:                  logger.New(logger.Config{Output: io.Discard}),
		WaitlistEnabled:      true,
		PromotionPolicy:      config.PromotionFirstFit,
		MaxWriteAttempts:     3,
		WriteConflictBackoff: 0,
		CascadeBatchSize:     2,
	}
}

func newFixture(t *testing.T, opts ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	f := &fixture{
		cfg:       cfg,
		sessions:  sessionsrepo.NewMemorySessionRepository(),
		bookings:  repository.NewMemoryBookingRepository(),
		members:   membersrepo.NewMemoryMemberRepository(),
		publisher: &recordingPublisher{},
		clock:     &testClock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
	}
	f.txManager = memory.NewTransactionManager(f.sessions, f.bookings)
	f.svc = f.build(f.bookings, f.txManager)
	return f
}

func (f *fixture) build(ledger repository.BookingRepository, txManager db.TransactionManager) *reservationService {
	svc := NewReservationService(
		ledger,
		f.sessions,
		f.members,
		capacity.NewViewer(f.sessions, ledger),
		txManager,
		f.publisher,
		validator.NewBookingValidator(f.cfg.Log),
		f.cfg,
	).(*reservationService)
	svc.now = f.clock.Now
	return svc
}

func (f *fixture) session(t *testing.T, capacity int, status model.SessionStatus) string {
	t.Helper()
	start := time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)
	s := &model.Session{
		Title:     "Early lanes",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Capacity:  capacity,
		Status:    status,
	}
	if err := f.sessions.Create(context.Background(), s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s.ID
}

func (f *fixture) member(name string) string {
	m := &model.Member{FirstName: name, LastName: "Swimmer", Email: name + "@pool.test"}
	f.members.Add(m)
	return m.ID
}

func (f *fixture) book(t *testing.T, sessionID, memberID string, spots int) *model.Reservation {
	t.Helper()
	res, err := f.svc.Create(context.Background(), &model.BookingRequest{
		SessionID: sessionID,
		MemberID:  memberID,
		NumSpots:  spots,
	})
	if err != nil {
		t.Fatalf("book %d spots: %v", spots, err)
	}
	return res
}

func (f *fixture) view(t *testing.T, sessionID string) *model.CapacityView {
	t.Helper()
	v, err := f.svc.CapacityView(context.Background(), sessionID, nil)
	if err != nil {
		t.Fatalf("capacity view: %v", err)
	}
	return v
}

func (f *fixture) status(t *testing.T, id string) model.BookingStatus {
	t.Helper()
	b, err := f.bookings.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find booking: %v", err)
	}
	return b.Status
}

func assertCode(t *testing.T, err error, code string) *apperrors.AppError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != code {
		t.Fatalf("code = %s, want %s (%v)", appErr.Code, code, err)
	}
	return appErr
}

func TestCreate_BooksWithinCapacity(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 10, model.SessionScheduled)
	memberID := f.member("Ada")

	res := f.book(t, sessionID, memberID, 3)

	if res.Booking.Status != model.BookingBooked {
		t.Errorf("status = %s, want booked", res.Booking.Status)
	}
	if res.Booking.ID == "" {
		t.Error("expected booking id")
	}
	if len(res.Booking.History) != 1 || res.Booking.History[0].Status != model.BookingBooked {
		t.Errorf("history = %+v", res.Booking.History)
	}
	if res.View.Reserved != 3 || res.View.Remaining != 7 {
		t.Errorf("view = %+v, want reserved 3 remaining 7", res.View)
	}
	if got := f.publisher.types(); len(got) != 1 || got[0] != model.EventBookingCreated {
		t.Errorf("events = %v", got)
	}
}

func TestCreate_ZeroSpotsRejectedBeforeStorage(t *testing.T) {
	cfg := testConfig()
	// No repositories: any storage access would panic.
	svc := NewReservationService(nil, nil, nil, nil, nil, nil, validator.NewBookingValidator(cfg.Log), cfg)

	for _, spots := range []int{0, -2} {
		_, err := svc.Create(context.Background(), &model.BookingRequest{
			SessionID: "665f1c2a9b1e4a0012345678",
			MemberID:  "665f1c2a9b1e4a0087654321",
			NumSpots:  spots,
		})
		assertCode(t, err, apperrors.CodeValidation)
	}
}

func TestCreate_ExactFit(t *testing.T) {
	tests := []struct {
		name            string
		waitlistEnabled bool
	}{
		{"waitlist disabled", false},
		{"waitlist enabled", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) { c.WaitlistEnabled = tt.waitlistEnabled })
			sessionID := f.session(t, 5, model.SessionScheduled)

			res := f.book(t, sessionID, f.member("Ada"), 5)
			if res.View.Remaining != 0 || res.Booking.Status != model.BookingBooked {
				t.Fatalf("exact fit: status %s view %+v", res.Booking.Status, res.View)
			}

			next, err := f.svc.Create(context.Background(), &model.BookingRequest{
				SessionID: sessionID,
				MemberID:  f.member("Grace"),
				NumSpots:  1,
			})
			if !tt.waitlistEnabled {
				appErr := assertCode(t, err, apperrors.CodeSessionFull)
				if appErr.Details["reason"] != reasonWaitlistDisabled {
					t.Errorf("reason = %v", appErr.Details["reason"])
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if next.Booking.Status != model.BookingWaitlist {
				t.Errorf("status = %s, want waitlist", next.Booking.Status)
			}
			if next.View.Reserved != 5 {
				t.Errorf("waitlisted booking must not reserve, view %+v", next.View)
			}
		})
	}
}

func TestCreate_LargeGroupLimitedOnlyByCapacity(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 100, model.SessionScheduled)

	res := f.book(t, sessionID, f.member("Ada"), 60)
	if res.Booking.Status != model.BookingBooked || res.View.Remaining != 40 {
		t.Fatalf("booking = %s, view %+v", res.Booking.Status, res.View)
	}

	res = f.book(t, sessionID, f.member("Grace"), 40)
	if res.Booking.Status != model.BookingBooked || res.View.Remaining != 0 {
		t.Errorf("booking = %s, view %+v", res.Booking.Status, res.View)
	}
}

func TestCreate_WaitlistDeclinedByCaller(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 2, model.SessionScheduled)
	f.book(t, sessionID, f.member("Ada"), 2)

	decline := false
	_, err := f.svc.Create(context.Background(), &model.BookingRequest{
		SessionID:     sessionID,
		MemberID:      f.member("Grace"),
		NumSpots:      1,
		AllowWaitlist: &decline,
	})
	appErr := assertCode(t, err, apperrors.CodeSessionFull)
	if appErr.Details["reason"] != reasonWaitlistDeclined {
		t.Errorf("reason = %v", appErr.Details["reason"])
	}

	count, _ := f.bookings.CountBySession(context.Background(), sessionID, nil)
	if count != 1 {
		t.Errorf("ledger has %d bookings, want 1", count)
	}
}

func TestCreate_Preconditions(t *testing.T) {
	f := newFixture(t)
	memberID := f.member("Ada")
	draft := f.session(t, 10, model.SessionDraft)

	_, err := f.svc.Create(context.Background(), &model.BookingRequest{SessionID: draft, MemberID: memberID, NumSpots: 1})
	assertCode(t, err, apperrors.CodeInvalidTransition)

	_, err = f.svc.Create(context.Background(), &model.BookingRequest{SessionID: "665f1c2a9b1e4a0012345678", MemberID: memberID, NumSpots: 1})
	assertCode(t, err, apperrors.CodeNotFound)

	scheduled := f.session(t, 10, model.SessionScheduled)
	_, err = f.svc.Create(context.Background(), &model.BookingRequest{SessionID: scheduled, MemberID: "665f1c2a9b1e4a0087654321", NumSpots: 1})
	assertCode(t, err, apperrors.CodeNotFound)
}

func TestCreate_CancelledContextLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 10, model.SessionScheduled)
	memberID := f.member("Ada")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Create(ctx, &model.BookingRequest{SessionID: sessionID, MemberID: memberID, NumSpots: 1})
	assertCode(t, err, apperrors.CodeTimeout)

	if v := f.view(t, sessionID); v.Reserved != 0 {
		t.Errorf("reserved = %d, want 0", v.Reserved)
	}
}

func TestCreate_PublishFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	sessionID := f.session(t, 10, model.SessionScheduled)

	res := f.book(t, sessionID, f.member("Ada"), 1)
	if res.Booking.Status != model.BookingBooked {
		t.Errorf("status = %s", res.Booking.Status)
	}
}

func TestConcurrentCreates_NeverOversell(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.WaitlistEnabled = false })
	sessionID := f.session(t, 10, model.SessionScheduled)

	const attempts = 50
	members := make([]string, attempts)
	for i := range members {
		members[i] = f.member("Swimmer")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	booked, full := 0, 0
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), &model.BookingRequest{
				SessionID: sessionID,
				MemberID:  members[i],
				NumSpots:  1,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case apperrors.HasCode(err, apperrors.CodeSessionFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if booked != 10 || full != attempts-10 {
		t.Errorf("booked = %d, full = %d", booked, full)
	}
	if v := f.view(t, sessionID); v.Reserved != 10 || v.Remaining != 0 {
		t.Errorf("view = %+v", v)
	}
}

func TestRoundTrip_CancelRestoresReserved(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 8, model.SessionScheduled)
	f.book(t, sessionID, f.member("Ada"), 2)

	before := f.view(t, sessionID).Reserved
	res := f.book(t, sessionID, f.member("Grace"), 3)
	if f.view(t, sessionID).Reserved != before+3 {
		t.Fatal("create did not reserve")
	}

	tr, err := f.svc.Cancel(context.Background(), res.Booking.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if tr.Booking.CancelledAt == nil {
		t.Error("expected cancelled_at")
	}
	if got := f.view(t, sessionID).Reserved; got != before {
		t.Errorf("reserved = %d, want %d", got, before)
	}
}

func TestScenario_CapacityTen(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 10, model.SessionScheduled)
	m1, m2 := f.member("M1"), f.member("M2")

	first := f.book(t, sessionID, m1, 3)
	if first.View.Reserved != 3 || first.View.Remaining != 7 {
		t.Fatalf("after M1: %+v", first.View)
	}

	second := f.book(t, sessionID, m2, 8)
	if second.Booking.Status != model.BookingWaitlist {
		t.Fatalf("M2 status = %s, want waitlist", second.Booking.Status)
	}

	tr, err := f.svc.Cancel(context.Background(), first.Booking.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(tr.Promoted) != 1 || tr.Promoted[0].ID != second.Booking.ID {
		t.Fatalf("promoted = %+v", tr.Promoted)
	}
	if tr.View.Reserved != 8 {
		t.Errorf("reserved = %d, want 8", tr.View.Reserved)
	}
	if f.status(t, second.Booking.ID) != model.BookingBooked {
		t.Error("M2 booking should be booked")
	}

	want := []string{model.EventBookingCreated, model.EventBookingWaitlisted, model.EventBookingCancelled, model.EventBookingPromoted}
	got := f.publisher.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPromotion_Policies(t *testing.T) {
	tests := []struct {
		policy       string
		wantPromoted []int // indexes into the waitlist
	}{
		{config.PromotionFirstFit, []int{1}},
		{config.PromotionStrictFIFO, nil},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) { c.PromotionPolicy = tt.policy })
			sessionID := f.session(t, 5, model.SessionScheduled)
			f.book(t, sessionID, f.member("A"), 3)
			released := f.book(t, sessionID, f.member("B"), 2)

			waitlist := []*model.Reservation{
				f.book(t, sessionID, f.member("W1"), 4),
				f.book(t, sessionID, f.member("W2"), 2),
				f.book(t, sessionID, f.member("W3"), 2),
			}

			tr, err := f.svc.Cancel(context.Background(), released.Booking.ID)
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}

			if len(tr.Promoted) != len(tt.wantPromoted) {
				t.Fatalf("promoted %d bookings, want %d", len(tr.Promoted), len(tt.wantPromoted))
			}
			for i, idx := range tt.wantPromoted {
				if tr.Promoted[i].ID != waitlist[idx].Booking.ID {
					t.Errorf("promoted[%d] = %s, want W%d", i, tr.Promoted[i].ID, idx+1)
				}
			}
			if tr.View.Reserved > tr.View.Capacity {
				t.Errorf("oversold: %+v", tr.View)
			}
		})
	}
}

func TestPromotion_Deterministic(t *testing.T) {
	run := func() []int {
		f := newFixture(t)
		sessionID := f.session(t, 4, model.SessionScheduled)
		holder := f.book(t, sessionID, f.member("Holder"), 4)

		spots := []int{3, 2, 1, 2, 1}
		ids := make(map[string]int)
		for i, n := range spots {
			res := f.book(t, sessionID, f.member("W"), n)
			ids[res.Booking.ID] = i
		}

		tr, err := f.svc.Cancel(context.Background(), holder.Booking.ID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		var order []int
		for _, b := range tr.Promoted {
			order = append(order, ids[b.ID])
		}
		return order
	}

	first, second := run(), run()
	// 3 fits, 2 does not, 1 fits, nothing left.
	want := []int{0, 2}
	for _, got := range [][]int{first, second} {
		if len(got) != len(want) {
			t.Fatalf("promoted order = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("promoted order = %v, want %v", got, want)
			}
		}
	}
}

func TestPromoteWaitlist_AfterCapacityRaise(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 2, model.SessionScheduled)
	f.book(t, sessionID, f.member("A"), 2)
	waiting := f.book(t, sessionID, f.member("B"), 3)

	s, _ := f.sessions.FindByID(context.Background(), sessionID)
	s.Capacity = 5
	if err := f.sessions.Update(context.Background(), sessionID, s); err != nil {
		t.Fatalf("raise capacity: %v", err)
	}

	p, err := f.svc.PromoteWaitlist(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if len(p.Promoted) != 1 || p.Promoted[0].ID != waiting.Booking.ID {
		t.Fatalf("promoted = %+v", p.Promoted)
	}
	if p.View.Remaining != 0 {
		t.Errorf("view = %+v", p.View)
	}

	again, err := f.svc.PromoteWaitlist(context.Background(), sessionID)
	if err != nil || len(again.Promoted) != 0 {
		t.Errorf("second promote = %+v, %v", again, err)
	}
}

func TestCheckIn_HoldsCapacity(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 2, model.SessionScheduled)
	res := f.book(t, sessionID, f.member("A"), 2)
	f.book(t, sessionID, f.member("B"), 1)

	tr, err := f.svc.CheckIn(context.Background(), res.Booking.ID)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if tr.Booking.Status != model.BookingCheckedIn || tr.Booking.CheckedInAt == nil {
		t.Errorf("booking = %+v", tr.Booking)
	}
	if len(tr.Promoted) != 0 || tr.View.Reserved != 2 {
		t.Errorf("check-in changed capacity: promoted %d view %+v", len(tr.Promoted), tr.View)
	}
}

func TestMarkNoShow_FreesCapacityAndPromotes(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 2, model.SessionScheduled)
	res := f.book(t, sessionID, f.member("A"), 2)
	waiting := f.book(t, sessionID, f.member("B"), 1)

	tr, err := f.svc.MarkNoShow(context.Background(), res.Booking.ID)
	if err != nil {
		t.Fatalf("no-show: %v", err)
	}
	if tr.Booking.Status != model.BookingNoShow || tr.PreviousStatus != model.BookingBooked {
		t.Errorf("booking = %+v", tr.Booking)
	}
	if len(tr.Promoted) != 1 || tr.Promoted[0].ID != waiting.Booking.ID {
		t.Errorf("promoted = %+v", tr.Promoted)
	}
	if tr.View.Reserved != 1 {
		t.Errorf("reserved = %d, want 1", tr.View.Reserved)
	}
}

func TestTransitions_Invalid(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 1, model.SessionScheduled)
	booked := f.book(t, sessionID, f.member("A"), 1)
	waiting := f.book(t, sessionID, f.member("B"), 1)
	ctx := context.Background()

	_, err := f.svc.CheckIn(ctx, waiting.Booking.ID)
	assertCode(t, err, apperrors.CodeInvalidTransition)

	_, err = f.svc.MarkNoShow(ctx, waiting.Booking.ID)
	assertCode(t, err, apperrors.CodeInvalidTransition)

	if _, err := f.svc.CheckIn(ctx, booked.Booking.ID); err != nil {
		t.Fatalf("check in: %v", err)
	}
	for _, op := range []func(context.Context, string) (*model.BookingTransition, error){f.svc.Cancel, f.svc.CheckIn, f.svc.MarkNoShow} {
		_, err := op(ctx, booked.Booking.ID)
		assertCode(t, err, apperrors.CodeInvalidTransition)
	}

	_, err = f.svc.Cancel(ctx, "665f1c2a9b1e4a0012345678")
	assertCode(t, err, apperrors.CodeNotFound)

	_, err = f.svc.Cancel(ctx, "not-an-id")
	assertCode(t, err, apperrors.CodeInvalidInput)
}

func TestCancel_WaitlistedBookingDoesNotPromote(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 1, model.SessionScheduled)
	f.book(t, sessionID, f.member("A"), 1)
	w1 := f.book(t, sessionID, f.member("B"), 1)
	w2 := f.book(t, sessionID, f.member("C"), 1)

	tr, err := f.svc.Cancel(context.Background(), w1.Booking.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(tr.Promoted) != 0 {
		t.Errorf("promoted = %+v", tr.Promoted)
	}
	if f.status(t, w2.Booking.ID) != model.BookingWaitlist {
		t.Error("remaining waitlist booking must stay waitlisted")
	}
}

func TestCancelSession_CascadesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 3, model.SessionScheduled)
	var ids []string
	for _, n := range []int{1, 1, 1, 2, 1} {
		ids = append(ids, f.book(t, sessionID, f.member("S"), n).Booking.ID)
	}
	checkedIn := ids[0]
	if _, err := f.svc.CheckIn(context.Background(), checkedIn); err != nil {
		t.Fatalf("check in: %v", err)
	}

	result, err := f.svc.CancelSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("cancel session: %v", err)
	}
	if result.Session.Status != model.SessionCancelled {
		t.Errorf("session status = %s", result.Session.Status)
	}
	if result.CancelledBookings != 4 {
		t.Errorf("cancelled = %d, want 4", result.CancelledBookings)
	}
	for _, id := range ids[1:] {
		if f.status(t, id) != model.BookingCancelled {
			t.Errorf("booking %s not cancelled", id)
		}
	}
	if f.status(t, checkedIn) != model.BookingCheckedIn {
		t.Error("terminal bookings are left alone")
	}

	again, err := f.svc.CancelSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if again.CancelledBookings != 0 {
		t.Errorf("rerun cancelled %d bookings", again.CancelledBookings)
	}

	_, err = f.svc.Create(context.Background(), &model.BookingRequest{SessionID: sessionID, MemberID: f.member("Late"), NumSpots: 1})
	assertCode(t, err, apperrors.CodeInvalidTransition)
}

func TestCancelSession_ResumesAfterInterruption(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 10, model.SessionScheduled)
	var ids []string
	for range 5 {
		ids = append(ids, f.book(t, sessionID, f.member("S"), 1).Booking.ID)
	}

	ledger := &failingLedger{MemoryBookingRepository: f.bookings, failAfter: 3}
	interrupted := f.build(ledger, memory.NewTransactionManager(f.sessions, f.bookings))

	if _, err := interrupted.CancelSession(context.Background(), sessionID); err == nil {
		t.Fatal("expected interruption")
	}

	// The first batch committed, the failed one rolled back whole.
	cancelled := 0
	for _, id := range ids {
		if f.status(t, id) == model.BookingCancelled {
			cancelled++
		}
	}
	if cancelled != 2 {
		t.Fatalf("cancelled after interruption = %d, want 2", cancelled)
	}
	s, _ := f.sessions.FindByID(context.Background(), sessionID)
	if s.Status != model.SessionCancelled {
		t.Fatalf("session status = %s", s.Status)
	}

	result, err := f.svc.CancelSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.CancelledBookings != 3 {
		t.Errorf("resume cancelled %d, want 3", result.CancelledBookings)
	}
	if v := f.view(t, sessionID); v.Reserved != 0 {
		t.Errorf("reserved = %d", v.Reserved)
	}
}

func TestCancelSession_CompletedIsInvalid(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 10, model.SessionScheduled)
	if _, err := f.sessions.SetStatus(context.Background(), sessionID, model.SessionScheduled, model.SessionCompleted, f.clock.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := f.svc.CancelSession(context.Background(), sessionID)
	assertCode(t, err, apperrors.CodeInvalidTransition)
}

func TestWriteConflicts_RetriedThenSurfaced(t *testing.T) {
	t.Run("exhausted", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.session(t, 10, model.SessionScheduled)
		calls := 0
		f.svc = f.build(f.bookings, &mockTxManager{executeFunc: func(ctx context.Context, fn db.TransactionFunc) error {
			calls++
			return db.ErrWriteConflict
		}})

		_, err := f.svc.Create(context.Background(), &model.BookingRequest{SessionID: sessionID, MemberID: f.member("A"), NumSpots: 1})
		assertCode(t, err, apperrors.CodeCapacityConflict)
		if calls != f.cfg.MaxWriteAttempts {
			t.Errorf("attempts = %d, want %d", calls, f.cfg.MaxWriteAttempts)
		}
	})

	t.Run("succeeds on retry", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.session(t, 10, model.SessionScheduled)
		calls := 0
		f.svc = f.build(f.bookings, &mockTxManager{executeFunc: func(ctx context.Context, fn db.TransactionFunc) error {
			calls++
			if calls < 3 {
				return db.ErrWriteConflict
			}
			return f.txManager.ExecuteTransaction(ctx, fn)
		}})

		res, err := f.svc.Create(context.Background(), &model.BookingRequest{SessionID: sessionID, MemberID: f.member("A"), NumSpots: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.View.Reserved != 1 {
			t.Errorf("reserved = %d", res.View.Reserved)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		f := newFixture(t)
		calls := 0
		f.svc = f.build(f.bookings, &mockTxManager{executeFunc: func(ctx context.Context, fn db.TransactionFunc) error {
			calls++
			return errors.New("disk full")
		}})

		_, err := f.svc.Cancel(context.Background(), "665f1c2a9b1e4a0012345678")
		assertCode(t, err, apperrors.CodeInternal)
		if calls != 1 {
			t.Errorf("attempts = %d, want 1", calls)
		}
	})
}

func TestCapacityView_AsOf(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 10, model.SessionScheduled)
	res := f.book(t, sessionID, f.member("A"), 4)
	acceptedAt := res.Booking.BookedAt

	if _, err := f.svc.Cancel(context.Background(), res.Booking.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	past, err := f.svc.CapacityView(context.Background(), sessionID, &acceptedAt)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if past.Reserved != 4 || past.AsOf == nil {
		t.Errorf("as-of view = %+v", past)
	}

	before := acceptedAt.Add(-time.Millisecond)
	earlier, _ := f.svc.CapacityView(context.Background(), sessionID, &before)
	if earlier.Reserved != 0 {
		t.Errorf("view before booking = %+v", earlier)
	}

	if now := f.view(t, sessionID); now.Reserved != 0 {
		t.Errorf("current view = %+v", now)
	}
}

func TestCapacityView_OverbookedAfterReduction(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 10, model.SessionScheduled)
	f.book(t, sessionID, f.member("A"), 6)

	s, _ := f.sessions.FindByID(context.Background(), sessionID)
	s.Capacity = 4
	if err := f.sessions.Update(context.Background(), sessionID, s); err != nil {
		t.Fatalf("lower capacity: %v", err)
	}

	v := f.view(t, sessionID)
	if !v.Overbooked || v.Remaining != -2 || v.Advisory != model.AdvisoryCapacityExceeded {
		t.Errorf("view = %+v", v)
	}

	_, err := f.svc.Create(context.Background(), &model.BookingRequest{SessionID: sessionID, MemberID: f.member("B"), NumSpots: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v := f.view(t, sessionID); v.Reserved != 6 {
		t.Errorf("overbooked session accepted a booking: %+v", v)
	}
}

func TestListSessionBookings(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 2, model.SessionScheduled)
	ada := f.member("Ada")
	f.book(t, sessionID, ada, 2)
	f.book(t, sessionID, f.member("Grace"), 1)

	all, total, err := f.svc.ListSessionBookings(context.Background(), sessionID, nil, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(all) != 2 {
		t.Fatalf("total = %d, len = %d", total, len(all))
	}
	if all[0].MemberID != ada || all[0].MemberName != "Ada Swimmer" || all[0].MemberEmail != "Ada@pool.test" {
		t.Errorf("first = %+v", all[0])
	}

	waiting, total, err := f.svc.ListSessionBookings(context.Background(), sessionID, []model.BookingStatus{model.BookingWaitlist}, 10, 0)
	if err != nil || total != 1 || waiting[0].Status != model.BookingWaitlist {
		t.Errorf("waitlist filter = %+v, %d, %v", waiting, total, err)
	}

	_, _, err = f.svc.ListSessionBookings(context.Background(), "665f1c2a9b1e4a0012345678", nil, 10, 0)
	assertCode(t, err, apperrors.CodeNotFound)
}

func TestListMemberBookings(t *testing.T) {
	f := newFixture(t)
	ada := f.member("Ada")
	first := f.session(t, 5, model.SessionScheduled)
	f.book(t, first, ada, 1)
	f.book(t, first, f.member("Grace"), 1)

	second := &model.Session{
		Title:     "Evening lanes",
		StartTime: time.Date(2026, 6, 10, 19, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 6, 10, 20, 0, 0, 0, time.UTC),
		Capacity:  5,
		Status:    model.SessionScheduled,
	}
	if err := f.sessions.Create(context.Background(), second); err != nil {
		t.Fatal(err)
	}
	latest := f.book(t, second.ID, ada, 2)

	bookings, total, err := f.svc.ListMemberBookings(context.Background(), ada, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(bookings) != 2 {
		t.Fatalf("total = %d len = %d", total, len(bookings))
	}
	if bookings[0].ID != latest.Booking.ID {
		t.Error("member bookings are listed newest first")
	}

	_, _, err = f.svc.ListMemberBookings(context.Background(), "665f1c2a9b1e4a0087654321", 10, 0)
	assertCode(t, err, apperrors.CodeNotFound)
}

func TestGetByID(t *testing.T) {
	f := newFixture(t)
	sessionID := f.session(t, 5, model.SessionScheduled)
	res := f.book(t, sessionID, f.member("Ada"), 1)

	detail, err := f.svc.GetByID(context.Background(), res.Booking.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.ID != res.Booking.ID || detail.MemberName != "Ada Swimmer" {
		t.Errorf("detail = %+v", detail)
	}

	_, err = f.svc.GetByID(context.Background(), "")
	assertCode(t, err, apperrors.CodeInvalidInput)
}
