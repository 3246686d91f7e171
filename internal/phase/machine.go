// Package phase owns the match lifecycle. A single goroutine applies feed
// events in order; everything else reads snapshots or subscribes to notices.
package phase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"soltybet/internal/ingest"
	"soltybet/internal/metrics"
	"soltybet/internal/models"

	"github.com/google/uuid"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseBetting   Phase = "betting"
	PhaseLocked    Phase = "locked"
	PhaseResolving Phase = "resolving"
	PhaseCancelled Phase = "cancelled"
)

// State is an immutable view of the machine
type State struct {
	Phase       Phase          `json:"phase"`
	MatchID     uuid.UUID      `json:"match_id"`
	RedFighter  string         `json:"red_fighter"`
	BlueFighter string         `json:"blue_fighter"`
	Volumes     models.Volumes `json:"volumes"`
	Winner      *models.Side   `json:"winner,omitempty"`
	Text        string         `json:"text"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// HasMatch reports whether the state carries a match
func (s State) HasMatch() bool {
	return s.MatchID != uuid.Nil
}

type NoticeKind string

const (
	NoticePhase NoticeKind = "phase"
	NoticeInfo  NoticeKind = "info"
)

// Notice is published to subscribers on every transition and informational event
type Notice struct {
	Kind  NoticeKind
	Text  string
	State State
}

// Gate toggles on-chain deposit acceptance
type Gate interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

// Ledger is the bet store as seen by the machine
type Ledger interface {
	StartMatch(ctx context.Context, red, blue string) (*models.Match, error)
	LockMatch(ctx context.Context, matchID uuid.UUID) error
	GetVolumes(ctx context.Context, matchID uuid.UUID) (models.Volumes, error)
	FinalizeVolumes(ctx context.Context, matchID uuid.UUID) (models.Volumes, error)
	// ActiveMatch returns nil without error when no match is open
	ActiveMatch(ctx context.Context) (*models.Match, error)
}

// ErrAlreadySettled is returned by a Settler for a match that was paid out before
var ErrAlreadySettled = errors.New("match already settled")

// Settler pays out or refunds a match
type Settler interface {
	Settle(ctx context.Context, matchID uuid.UUID, winner models.Side, duration string) error
	Refund(ctx context.Context, matchID uuid.UUID) error
}

// Alerter escalates to operators
type Alerter interface {
	Error(ctx context.Context, msg string)
	Info(ctx context.Context, msg string)
}

// Config holds machine timing
type Config struct {
	LockPollInterval    time.Duration
	LockPollWindow      time.Duration
	BettingPollInterval time.Duration // 0 disables live volume updates while betting
	InboxSize           int
	SubscriberBuffer    int
}

func DefaultConfig() Config {
	return Config{
		LockPollInterval:    time.Second,
		LockPollWindow:      15 * time.Second,
		BettingPollInterval: 2 * time.Second,
		InboxSize:           64,
		SubscriberBuffer:    128,
	}
}

type Machine struct {
	config  Config
	gate    Gate
	ledger  Ledger
	settler Settler
	alerter Alerter
	metrics *metrics.Metrics
	now     func() time.Time

	inbox chan ingest.Event

	mu    sync.RWMutex
	state State

	subsMu  sync.Mutex
	subs    map[int]chan Notice
	nextSub int

	// owned by the Run goroutine
	lockedAt time.Time
}

func NewMachine(config Config, gate Gate, ledger Ledger, settler Settler, alerter Alerter, m *metrics.Metrics) *Machine {
	if config.InboxSize <= 0 {
		config.InboxSize = 64
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = 128
	}
	return &Machine{
		config:  config,
		gate:    gate,
		ledger:  ledger,
		settler: settler,
		alerter: alerter,
		metrics: m,
		now:     time.Now,
		inbox:   make(chan ingest.Event, config.InboxSize),
		subs:    make(map[int]chan Notice),
		state:   State{Phase: PhaseIdle, UpdatedAt: time.Now()},
	}
}

// Submit queues a feed event without blocking. A full inbox drops the event.
func (m *Machine) Submit(ev ingest.Event) {
	m.TrySubmit(ev)
}

// TrySubmit is Submit with the drop reported to the caller
func (m *Machine) TrySubmit(ev ingest.Event) bool {
	select {
	case m.inbox <- ev:
		return true
	default:
		log.Printf("[PhaseMachine] inbox full, dropping %s", ev.Kind)
		return false
	}
}

// Snapshot returns the current state
func (m *Machine) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers a notice listener. A listener that falls behind has its
// channel closed and must subscribe again.
func (m *Machine) Subscribe() (<-chan Notice, func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Notice, m.config.SubscriberBuffer)
	m.subs[id] = ch

	return ch, func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Run applies events until ctx is cancelled
func (m *Machine) Run(ctx context.Context) error {
	m.resume(ctx)

	var tick <-chan time.Time
	if m.config.BettingPollInterval > 0 {
		ticker := time.NewTicker(m.config.BettingPollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	log.Printf("[PhaseMachine] started in phase %s", m.Snapshot().Phase)
	for {
		select {
		case <-ctx.Done():
			log.Println("[PhaseMachine] stopped")
			return ctx.Err()
		case ev := <-m.inbox:
			m.handle(ctx, ev)
		case <-tick:
			if m.Snapshot().Phase == PhaseBetting {
				m.refreshVolumes(ctx, "Bets are OPEN!")
			}
		}
	}
}

// resume picks up a match left open by a previous process
func (m *Machine) resume(ctx context.Context) {
	match, err := m.ledger.ActiveMatch(ctx)
	if err != nil {
		log.Printf("[PhaseMachine] failed to load active match: %v", err)
		return
	}
	if match == nil {
		return
	}

	next := PhaseBetting
	text := "Bets are OPEN!"
	if match.Status == models.MatchStatusLocked {
		next = PhaseLocked
		text = "Bets are locked"
		m.lockedAt = m.now()
	}

	log.Printf("[PhaseMachine] resuming match %s in phase %s", match.ID, next)
	m.transition(next, text, func(s *State) {
		s.MatchID = match.ID
		s.RedFighter = match.RedName
		s.BlueFighter = match.BlueName
		s.Volumes = models.Volumes{Red: match.VolRed, Blue: match.VolBlue}
	})
}

func (m *Machine) handle(ctx context.Context, ev ingest.Event) {
	switch ev.Kind {
	case ingest.KindBetsOpen:
		m.onBetsOpen(ctx, ev)
	case ingest.KindBetsLocked:
		m.onBetsLocked(ctx)
	case ingest.KindMatchEnd:
		m.onMatchEnd(ctx, ev)
	default:
		log.Printf("[PhaseMachine] ignoring event %s", ev.Kind)
	}
}

func (m *Machine) onBetsOpen(ctx context.Context, ev ingest.Event) {
	cur := m.Snapshot()

	// a repeated line for the live match never restarts it
	if sameFighters(cur, ev) {
		switch cur.Phase {
		case PhaseBetting:
			return
		case PhaseLocked, PhaseResolving:
			log.Printf("[PhaseMachine] repeated bets-open for %s vs %s in phase %s, dropped", ev.Red, ev.Blue, cur.Phase)
			return
		}
	}

	// the previous match never reached a result
	if cur.HasMatch() {
		log.Printf("[PhaseMachine] match %s superseded in phase %s, refunding", cur.MatchID, cur.Phase)
		m.settled(ctx, "Refund of superseded match", cur.MatchID, m.settler.Refund(ctx, cur.MatchID))
	}

	match, err := m.ledger.StartMatch(ctx, ev.Red, ev.Blue)
	if err != nil {
		m.alertError(ctx, fmt.Sprintf("Failed to start match %s vs %s: %v", ev.Red, ev.Blue, err))
		m.transition(PhaseIdle, "Waiting for the next match", clearMatch)
		return
	}

	if err := m.gate.Open(ctx); err != nil {
		m.alertError(ctx, fmt.Sprintf("Gate open failed for match %s: %v", match.ID, err))
	}

	m.transition(PhaseBetting, ev.Text, func(s *State) {
		s.MatchID = match.ID
		s.RedFighter = ev.Red
		s.BlueFighter = ev.Blue
		s.Volumes = models.Volumes{}
		s.Winner = nil
	})
}

func (m *Machine) onBetsLocked(ctx context.Context) {
	switch cur := m.Snapshot(); cur.Phase {
	case PhaseLocked:
		return
	case PhaseBetting:
		m.lock(ctx)
	default:
		log.Printf("[PhaseMachine] bets-locked in phase %s, dropped", cur.Phase)
	}
}

// lock closes the gate, watches late confirmations and finalizes volumes.
// It leaves the machine in locked, or in idle when the match was refunded.
func (m *Machine) lock(ctx context.Context) {
	matchID := m.Snapshot().MatchID

	if err := m.gate.Close(ctx); err != nil {
		m.alertError(ctx, fmt.Sprintf("Gate close failed for match %s: %v", matchID, err))
	}
	if err := m.ledger.LockMatch(ctx, matchID); err != nil {
		log.Printf("[PhaseMachine] failed to lock match %s: %v", matchID, err)
	}

	m.lockedAt = m.now()
	m.transition(PhaseLocked, "Bets are locked", nil)

	m.pollLockWindow(ctx)

	vols, err := m.ledger.FinalizeVolumes(ctx, matchID)
	if err != nil {
		m.alertError(ctx, fmt.Sprintf("Failed to finalize volumes for match %s: %v", matchID, err))
		return
	}
	m.setVolumes(vols)

	if !vols.OneSided() {
		return
	}

	m.transition(PhaseCancelled, "Bets are locked", nil)
	m.alertInfo(ctx, fmt.Sprintf("One-sided betting on match %s, refunding", matchID))
	if m.settled(ctx, "Refund", matchID, m.settler.Refund(ctx, matchID)) {
		m.publish(NoticeInfo, "Match cancelled: all bets were on one side and have been refunded")
	} else {
		m.publish(NoticeInfo, "Match cancelled: refunds are delayed")
	}
	m.transition(PhaseIdle, "Waiting for the next match", clearMatch)
}

func (m *Machine) pollLockWindow(ctx context.Context) {
	start := m.now()
	defer func() { m.metrics.ObserveLockWindow(m.now().Sub(start)) }()

	if m.config.LockPollInterval <= 0 || m.config.LockPollWindow <= 0 {
		return
	}

	ticker := time.NewTicker(m.config.LockPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(m.config.LockPollWindow)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			m.refreshVolumes(ctx, "Bets are locked")
		}
	}
}

func (m *Machine) refreshVolumes(ctx context.Context, text string) {
	cur := m.Snapshot()
	if !cur.HasMatch() {
		return
	}
	vols, err := m.ledger.GetVolumes(ctx, cur.MatchID)
	if err != nil {
		log.Printf("[PhaseMachine] failed to read volumes for %s: %v", cur.MatchID, err)
		return
	}
	m.setVolumes(vols)
	m.publish(NoticePhase, text)
}

func (m *Machine) onMatchEnd(ctx context.Context, ev ingest.Event) {
	cur := m.Snapshot()

	if cur.Phase == PhaseBetting {
		log.Printf("[PhaseMachine] match-end before lock on %s, locking first", cur.MatchID)
		m.lock(ctx)
		cur = m.Snapshot()
	}

	if cur.Phase != PhaseLocked {
		log.Printf("[PhaseMachine] match-end in phase %s, dropped", cur.Phase)
		return
	}

	duration := ev.Duration
	if duration == "" {
		duration = formatDuration(m.now().Sub(m.lockedAt))
	}
	side, ok := ResolveWinner(ev.Winner, cur.RedFighter, cur.BlueFighter)

	m.transition(PhaseResolving, ev.Text, func(s *State) {
		if ok {
			s.Winner = &side
		}
	})

	if !ok {
		m.alertError(ctx, fmt.Sprintf("Unknown winner %q for match %s, refunding", ev.Winner, cur.MatchID))
		if m.settled(ctx, "Refund", cur.MatchID, m.settler.Refund(ctx, cur.MatchID)) {
			m.publish(NoticeInfo, "Match void: bets have been refunded")
		} else {
			m.publish(NoticeInfo, "Match void: refunds are delayed")
		}
	} else if m.settled(ctx, "Settlement", cur.MatchID, m.settler.Settle(ctx, cur.MatchID, side, duration)) {
		m.publish(NoticeInfo, "Payouts sent")
	} else {
		m.publish(NoticeInfo, "Payouts delayed")
	}

	m.transition(PhaseIdle, "Waiting for the next match", clearMatch)
}

// ResolveWinner maps a match-end label onto a side. It accepts fighter names,
// compared case-insensitively, and the team labels.
func ResolveWinner(label, red, blue string) (models.Side, bool) {
	norm := func(s string) string {
		return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
	}
	l := norm(label)
	if l == "" {
		return "", false
	}

	switch l {
	case "team red", "red":
		return models.SideRed, true
	case "team blue", "blue":
		return models.SideBlue, true
	}

	r, b := norm(red), norm(blue)
	if r == b {
		return "", false
	}
	switch l {
	case r:
		return models.SideRed, true
	case b:
		return models.SideBlue, true
	}
	return "", false
}

// settled reports whether a payout call left the match paid, alerting when it did not
func (m *Machine) settled(ctx context.Context, what string, matchID uuid.UUID, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrAlreadySettled) {
		log.Printf("[PhaseMachine] match %s was already settled", matchID)
		return true
	}
	m.alertError(ctx, fmt.Sprintf("%s of match %s failed: %v", what, matchID, err))
	return false
}

func sameFighters(s State, ev ingest.Event) bool {
	return s.HasMatch() &&
		strings.EqualFold(strings.TrimSpace(s.RedFighter), strings.TrimSpace(ev.Red)) &&
		strings.EqualFold(strings.TrimSpace(s.BlueFighter), strings.TrimSpace(ev.Blue))
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func clearMatch(s *State) {
	s.MatchID = uuid.Nil
	s.RedFighter = ""
	s.BlueFighter = ""
	s.Volumes = models.Volumes{}
	s.Winner = nil
}

func (m *Machine) transition(next Phase, text string, mutate func(*State)) {
	m.mu.Lock()
	prev := m.state.Phase
	m.state.Phase = next
	m.state.Text = text
	m.state.UpdatedAt = m.now()
	if mutate != nil {
		mutate(&m.state)
	}
	m.mu.Unlock()

	if prev != next {
		log.Printf("[PhaseMachine] %s -> %s", prev, next)
		m.metrics.PhaseChange(string(prev), string(next))
	}
	m.publish(NoticePhase, text)
}

func (m *Machine) setVolumes(vols models.Volumes) {
	m.mu.Lock()
	m.state.Volumes = vols
	m.mu.Unlock()
	m.metrics.SetLiveVolume(vols.Red, vols.Blue)
}

func (m *Machine) publish(kind NoticeKind, text string) {
	n := Notice{Kind: kind, Text: text, State: m.Snapshot()}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- n:
		default:
			log.Printf("[PhaseMachine] subscriber %d fell behind, dropping it", id)
			delete(m.subs, id)
			close(ch)
		}
	}
}

func (m *Machine) alertError(ctx context.Context, msg string) {
	log.Printf("[PhaseMachine] %s", msg)
	if m.alerter != nil {
		m.alerter.Error(ctx, msg)
	}
}

func (m *Machine) alertInfo(ctx context.Context, msg string) {
	log.Printf("[PhaseMachine] %s", msg)
	if m.alerter != nil {
		m.alerter.Info(ctx, msg)
	}
}
