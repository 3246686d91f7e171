package phase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"soltybet/internal/ingest"
	"soltybet/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct {
	mu       sync.Mutex
	opens    int
	closes   int
	closeErr error
}

func (g *fakeGate) Open(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opens++
	return nil
}

func (g *fakeGate) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes++
	return g.closeErr
}

type fakeLedger struct {
	mu      sync.Mutex
	started []*models.Match
	locked  []uuid.UUID
	volumes models.Volumes
	active  *models.Match
}

func (l *fakeLedger) StartMatch(ctx context.Context, red, blue string) (*models.Match, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := &models.Match{ID: uuid.New(), RedName: red, BlueName: blue, Status: models.MatchStatusBetting}
	l.started = append(l.started, m)
	return m, nil
}

func (l *fakeLedger) LockMatch(ctx context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = append(l.locked, id)
	return nil
}

func (l *fakeLedger) GetVolumes(ctx context.Context, id uuid.UUID) (models.Volumes, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.volumes, nil
}

func (l *fakeLedger) FinalizeVolumes(ctx context.Context, id uuid.UUID) (models.Volumes, error) {
	return l.GetVolumes(ctx, id)
}

func (l *fakeLedger) ActiveMatch(ctx context.Context) (*models.Match, error) {
	return l.active, nil
}

type settleCall struct {
	matchID uuid.UUID
	winner  models.Side
}

type fakeSettler struct {
	mu        sync.Mutex
	settled   []settleCall
	durations []string
	refunds   []uuid.UUID
	settleErr error
}

func (s *fakeSettler) Settle(ctx context.Context, id uuid.UUID, winner models.Side, duration string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, settleCall{id, winner})
	s.durations = append(s.durations, duration)
	return s.settleErr
}

func (s *fakeSettler) Refund(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refunds = append(s.refunds, id)
	return nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

func (a *fakeAlerter) Error(ctx context.Context, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append(a.errors, msg)
}

func (a *fakeAlerter) Info(ctx context.Context, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.infos = append(a.infos, msg)
}

type harness struct {
	machine *Machine
	gate    *fakeGate
	ledger  *fakeLedger
	settler *fakeSettler
	alerter *fakeAlerter
}

func newHarness() *harness {
	h := &harness{
		gate:    &fakeGate{},
		ledger:  &fakeLedger{volumes: models.Volumes{Red: decimal.NewFromInt(2), Blue: decimal.NewFromInt(3)}},
		settler: &fakeSettler{},
		alerter: &fakeAlerter{},
	}
	cfg := Config{LockPollInterval: 2 * time.Millisecond, LockPollWindow: 10 * time.Millisecond}
	h.machine = NewMachine(cfg, h.gate, h.ledger, h.settler, h.alerter, nil)
	return h
}

var (
	openEvent   = ingest.Event{Kind: ingest.KindBetsOpen, Red: "Ryu", Blue: "Ken", Text: "Bets are OPEN!"}
	lockedEvent = ingest.Event{Kind: ingest.KindBetsLocked, Text: "Bets are locked"}
)

func endEvent(winner string) ingest.Event {
	return ingest.Event{Kind: ingest.KindMatchEnd, Winner: winner, Text: winner + " wins!"}
}

func TestBetsOpenStartsMatchAndOpensGate(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.machine.handle(ctx, openEvent)
	h.machine.handle(ctx, openEvent)

	state := h.machine.Snapshot()
	assert.Equal(t, PhaseBetting, state.Phase)
	assert.Equal(t, "Ryu", state.RedFighter)
	assert.Len(t, h.ledger.started, 1, "duplicate bets-open must be a no-op")
	assert.Equal(t, 1, h.gate.opens)
}

func TestFullMatchSettlesWinner(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.machine.handle(ctx, openEvent)
	matchID := h.machine.Snapshot().MatchID
	h.machine.handle(ctx, lockedEvent)

	state := h.machine.Snapshot()
	require.Equal(t, PhaseLocked, state.Phase)
	assert.True(t, state.Volumes.Blue.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 1, h.gate.closes)
	assert.Equal(t, []uuid.UUID{matchID}, h.ledger.locked)

	h.machine.handle(ctx, lockedEvent)
	assert.Equal(t, 1, h.gate.closes, "duplicate lock must be a no-op")

	h.machine.handle(ctx, endEvent("Ken"))
	require.Len(t, h.settler.settled, 1)
	assert.Equal(t, settleCall{matchID, models.SideBlue}, h.settler.settled[0])
	assert.Equal(t, PhaseIdle, h.machine.Snapshot().Phase)

	h.machine.handle(ctx, endEvent("Ken"))
	assert.Len(t, h.settler.settled, 1, "match-end after resolution must be dropped")
}

func TestOneSidedLockRefunds(t *testing.T) {
	h := newHarness()
	h.ledger.volumes = models.Volumes{Red: decimal.NewFromInt(5), Blue: decimal.Zero}
	ctx := context.Background()

	h.machine.handle(ctx, openEvent)
	matchID := h.machine.Snapshot().MatchID
	h.machine.handle(ctx, lockedEvent)

	assert.Equal(t, []uuid.UUID{matchID}, h.settler.refunds)
	assert.Empty(t, h.settler.settled)
	assert.Equal(t, PhaseIdle, h.machine.Snapshot().Phase)
	assert.NotEmpty(t, h.alerter.infos)
}

func TestMatchEndWhileBettingLocksFirst(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.machine.handle(ctx, openEvent)
	h.machine.handle(ctx, endEvent("Team Red"))

	assert.Equal(t, 1, h.gate.closes)
	require.Len(t, h.settler.settled, 1)
	assert.Equal(t, models.SideRed, h.settler.settled[0].winner)
}

func TestNewMatchRefundsSupersededMatch(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.machine.handle(ctx, openEvent)
	first := h.machine.Snapshot().MatchID
	h.machine.handle(ctx, lockedEvent)

	h.machine.handle(ctx, ingest.Event{Kind: ingest.KindBetsOpen, Red: "Guile", Blue: "Blanka", Text: "Bets are OPEN!"})

	assert.Equal(t, []uuid.UUID{first}, h.settler.refunds)
	state := h.machine.Snapshot()
	assert.Equal(t, PhaseBetting, state.Phase)
	assert.NotEqual(t, first, state.MatchID)
}

func TestRepeatedOpenAfterLockIsDropped(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.machine.handle(ctx, openEvent)
	matchID := h.machine.Snapshot().MatchID
	h.machine.handle(ctx, lockedEvent)
	h.machine.handle(ctx, ingest.Event{Kind: ingest.KindBetsOpen, Red: "ryu", Blue: "Ken", Text: "Bets are OPEN!"})

	state := h.machine.Snapshot()
	assert.Equal(t, PhaseLocked, state.Phase)
	assert.Equal(t, matchID, state.MatchID)
	assert.Empty(t, h.settler.refunds)
	assert.Len(t, h.ledger.started, 1)
	assert.Equal(t, 1, h.gate.opens)

	h.machine.handle(ctx, endEvent("Ken"))
	require.Len(t, h.settler.settled, 1)
	assert.Equal(t, matchID, h.settler.settled[0].matchID)
}

func infoTexts(notices <-chan Notice) []string {
	var texts []string
	for {
		select {
		case n := <-notices:
			if n.Kind == NoticeInfo {
				texts = append(texts, n.Text)
			}
		default:
			return texts
		}
	}
}

func TestFailedSettlementAnnouncesDelay(t *testing.T) {
	h := newHarness()
	h.settler.settleErr = errors.New("db down")
	notices, cancel := h.machine.Subscribe()
	defer cancel()
	ctx := context.Background()

	h.machine.handle(ctx, openEvent)
	h.machine.handle(ctx, lockedEvent)
	h.machine.handle(ctx, endEvent("Ken"))

	texts := infoTexts(notices)
	assert.Contains(t, texts, "Payouts delayed")
	assert.NotContains(t, texts, "Payouts sent")
	require.NotEmpty(t, h.alerter.errors)
	assert.Contains(t, h.alerter.errors[len(h.alerter.errors)-1], "db down")
	assert.Equal(t, PhaseIdle, h.machine.Snapshot().Phase)
}

func TestAlreadySettledStillAnnouncesPayouts(t *testing.T) {
	h := newHarness()
	h.settler.settleErr = fmt.Errorf("settle: %w", ErrAlreadySettled)
	notices, cancel := h.machine.Subscribe()
	defer cancel()
	ctx := context.Background()

	h.machine.handle(ctx, openEvent)
	h.machine.handle(ctx, lockedEvent)
	h.machine.handle(ctx, endEvent("Ryu"))

	assert.Contains(t, infoTexts(notices), "Payouts sent")
	assert.Empty(t, h.alerter.errors)
}

func TestMatchEndPrefersAnnouncedDuration(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.machine.handle(ctx, openEvent)
	h.machine.handle(ctx, lockedEvent)
	end := endEvent("Ken")
	end.Duration = "1:23"
	h.machine.handle(ctx, end)

	h.machine.handle(ctx, openEvent)
	h.machine.handle(ctx, lockedEvent)
	h.machine.handle(ctx, endEvent("Ken"))

	require.Len(t, h.settler.durations, 2)
	assert.Equal(t, "1:23", h.settler.durations[0])
	assert.Equal(t, "0:00", h.settler.durations[1])
}

func TestUnknownWinnerRefundsAndAlerts(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.machine.handle(ctx, openEvent)
	matchID := h.machine.Snapshot().MatchID
	h.machine.handle(ctx, lockedEvent)
	h.machine.handle(ctx, endEvent("Somebody Else"))

	assert.Empty(t, h.settler.settled)
	assert.Equal(t, []uuid.UUID{matchID}, h.settler.refunds)
	assert.NotEmpty(t, h.alerter.errors)
}

func TestGateCloseFailureStillLocks(t *testing.T) {
	h := newHarness()
	h.gate.closeErr = errors.New("rpc down")
	ctx := context.Background()

	h.machine.handle(ctx, openEvent)
	h.machine.handle(ctx, lockedEvent)

	assert.Equal(t, PhaseLocked, h.machine.Snapshot().Phase)
	require.NotEmpty(t, h.alerter.errors)
	assert.Contains(t, h.alerter.errors[0], "Gate close failed")
}

func TestLockedBeforeOpenIsDropped(t *testing.T) {
	h := newHarness()
	h.machine.handle(context.Background(), lockedEvent)

	assert.Equal(t, PhaseIdle, h.machine.Snapshot().Phase)
	assert.Equal(t, 0, h.gate.closes)
}

func TestSubscribersSeeOrderedNotices(t *testing.T) {
	h := newHarness()
	notices, cancel := h.machine.Subscribe()
	defer cancel()

	h.machine.handle(context.Background(), openEvent)

	select {
	case n := <-notices:
		assert.Equal(t, NoticePhase, n.Kind)
		assert.Equal(t, PhaseBetting, n.State.Phase)
		assert.Equal(t, "Ken", n.State.BlueFighter)
	case <-time.After(time.Second):
		t.Fatal("no notice")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := newHarness()
	h.machine.config.SubscriberBuffer = 1
	notices, cancel := h.machine.Subscribe()
	defer cancel()

	h.machine.publish(NoticeInfo, "one")
	h.machine.publish(NoticeInfo, "two")

	n, ok := <-notices
	require.True(t, ok)
	assert.Equal(t, "one", n.Text)
	_, ok = <-notices
	assert.False(t, ok, "channel should be closed after overflow")
}

func TestTrySubmitReportsFullInbox(t *testing.T) {
	h := newHarness()
	h.machine.inbox = make(chan ingest.Event, 1)

	assert.True(t, h.machine.TrySubmit(openEvent))
	assert.False(t, h.machine.TrySubmit(lockedEvent))
}

func TestRunResumesActiveMatch(t *testing.T) {
	h := newHarness()
	id := uuid.New()
	h.ledger.active = &models.Match{ID: id, RedName: "Ryu", BlueName: "Ken", Status: models.MatchStatusLocked}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.machine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.machine.Snapshot().Phase == PhaseLocked
	}, time.Second, 5*time.Millisecond)

	h.machine.Submit(endEvent("Ryu"))
	require.Eventually(t, func() bool {
		return h.machine.Snapshot().Phase == PhaseIdle
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	h.settler.mu.Lock()
	defer h.settler.mu.Unlock()
	require.Len(t, h.settler.settled, 1)
	assert.Equal(t, settleCall{id, models.SideRed}, h.settler.settled[0])
}

func TestResolveWinner(t *testing.T) {
	tests := []struct {
		label string
		side  models.Side
		ok    bool
	}{
		{"Ryu", models.SideRed, true},
		{"ken", models.SideBlue, true},
		{"Team Blue", models.SideBlue, true},
		{"red", models.SideRed, true},
		{"Akuma", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		side, ok := ResolveWinner(tt.label, "Ryu", "Ken")
		assert.Equal(t, tt.ok, ok, tt.label)
		assert.Equal(t, tt.side, side, tt.label)
	}

	_, ok := ResolveWinner("Mirror", "Mirror", "Mirror")
	assert.False(t, ok)

	side, ok := ResolveWinner("Big Bad Wolf", "Big_Bad_Wolf", "Ken")
	assert.True(t, ok)
	assert.Equal(t, models.SideRed, side)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1:05", formatDuration(65*time.Second))
	assert.Equal(t, "0:00", formatDuration(-time.Second))
}
