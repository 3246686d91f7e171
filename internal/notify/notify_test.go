package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"soltybet/internal/models"
	"soltybet/internal/phase"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePhaseEventWireShape(t *testing.T) {
	id := uuid.New()
	data, err := Encode(PhaseEvent{
		Text:        "Bets are OPEN!",
		RedFighter:  "Ryu",
		BlueFighter: "Ken",
		MatchID:     id,
		TotalRed:    1.5,
	})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "phase", raw["type"])
	assert.Equal(t, "Ryu", raw["redFighter"])
	assert.Equal(t, "Ken", raw["blueFighter"])
	assert.Equal(t, id.String(), raw["match_id"])
	assert.Equal(t, 1.5, raw["total_red"])
	assert.Equal(t, float64(0), raw["total_blue"])

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, PhaseEvent{Text: "Bets are OPEN!", RedFighter: "Ryu", BlueFighter: "Ken", MatchID: id, TotalRed: 1.5}, decoded)
}

func TestEncodeInfoEventOmitsMatchFields(t *testing.T) {
	data, err := Encode(InfoEvent{Text: "Payouts sent"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"info","text":"Payouts sent"}`, string(data))
}

func TestDecodeRejectsInvalidEvents(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"unknown type", `{"type":"chat","text":"hi"}`, ErrUnknownType},
		{"empty phase text", `{"type":"phase","text":""}`, ErrEmptyText},
		{"empty info text", `{"type":"info"}`, ErrEmptyText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Decode([]byte(`{"type":"phase","text":"x","match_id":"nope"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
	_, err = Encode(InfoEvent{})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestFromNotice(t *testing.T) {
	state := phase.State{
		Phase:       phase.PhaseLocked,
		MatchID:     uuid.New(),
		RedFighter:  "Ryu",
		BlueFighter: "Ken",
		Volumes:     models.Volumes{Red: decimal.RequireFromString("2"), Blue: decimal.RequireFromString("0.5")},
		Text:        "Bets are locked",
	}

	ev := FromNotice(phase.Notice{Kind: phase.NoticePhase, Text: "Bets are locked", State: state})
	pe, ok := ev.(PhaseEvent)
	require.True(t, ok)
	assert.Equal(t, state.MatchID, pe.MatchID)
	assert.Equal(t, 2.0, pe.TotalRed)
	assert.Equal(t, 0.5, pe.TotalBlue)

	ev = FromNotice(phase.Notice{Kind: phase.NoticeInfo, Text: "Payouts sent", State: state})
	assert.Equal(t, InfoEvent{Text: "Payouts sent"}, ev)

	idle := FromState(phase.State{Phase: phase.PhaseIdle})
	assert.NoError(t, idle.Validate())
}

type fakeSource struct {
	mu     sync.Mutex
	state  phase.State
	queued []phase.Notice // already waiting when the next subscription starts
	chans  []chan phase.Notice
}

func (f *fakeSource) Snapshot() phase.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) Subscribe() (<-chan phase.Notice, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan phase.Notice, 8)
	for _, n := range f.queued {
		ch <- n
	}
	f.queued = nil
	f.chans = append(f.chans, ch)
	return ch, func() {}
}

func (f *fakeSource) set(state phase.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func (f *fakeSource) latest() chan phase.Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chans) == 0 {
		return nil
	}
	return f.chans[len(f.chans)-1]
}

func (f *fakeSource) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chans)
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := Decode(data)
	require.NoError(t, err)
	return ev
}

func TestHubSendsSnapshotThenBroadcasts(t *testing.T) {
	source := &fakeSource{state: phase.State{Phase: phase.PhaseBetting, MatchID: uuid.New(), RedFighter: "Ryu", BlueFighter: "Ken", Text: "Bets are OPEN!"}}
	hub := NewHub(source, DefaultHubConfig(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readEvent(t, conn)
	pe, ok := first.(PhaseEvent)
	require.True(t, ok)
	assert.Equal(t, "Bets are OPEN!", pe.Text)
	assert.Equal(t, "Ryu", pe.RedFighter)

	hub.Broadcast(InfoEvent{Text: "Payouts sent"})
	assert.Equal(t, InfoEvent{Text: "Payouts sent"}, readEvent(t, conn))
	assert.Equal(t, 1, hub.ClientCount())

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	hub := NewHub(nil, HubConfig{SendBuffer: 2}, nil)
	slow := &client{hub: hub, send: make(chan []byte, 2)}
	fast := &client{hub: hub, send: make(chan []byte, 16)}
	hub.register(slow)
	hub.register(fast)

	for i := 0; i < 3; i++ {
		hub.Broadcast(InfoEvent{Text: "tick"})
	}

	assert.Equal(t, 1, hub.ClientCount())
	assert.Len(t, fast.send, 3)

	// the slow client keeps what it had, then sees its queue closed
	received := 0
	for range slow.send {
		received++
	}
	assert.Equal(t, 2, received)
}

func nextEvent(t *testing.T, c *client) Event {
	t.Helper()
	select {
	case data := <-c.send:
		ev, err := Decode(data)
		require.NoError(t, err)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event queued")
		return nil
	}
}

func TestHubRunResubscribesAndResendsState(t *testing.T) {
	source := &fakeSource{state: phase.State{Phase: phase.PhaseLocked, Text: "Bets are locked", UpdatedAt: time.Now()}}
	hub := NewHub(source, HubConfig{SendBuffer: 16}, nil)
	c := &client{hub: hub, send: make(chan []byte, 16)}
	hub.register(c)
	assert.Equal(t, "Bets are locked", nextEvent(t, c).(PhaseEvent).Text)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return source.subscriptions() == 1 }, time.Second, 5*time.Millisecond)
	source.latest() <- phase.Notice{Kind: phase.NoticeInfo, Text: "Payouts sent"}
	// the unchanged state is not sent a second time
	assert.Equal(t, InfoEvent{Text: "Payouts sent"}, nextEvent(t, c))

	// the machine moves on while the hub is dropped
	source.set(phase.State{Phase: phase.PhaseIdle, Text: "Waiting for the next match", UpdatedAt: time.Now()})
	close(source.latest())
	require.Eventually(t, func() bool { return source.subscriptions() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Waiting for the next match", nextEvent(t, c).(PhaseEvent).Text)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Zero(t, hub.ClientCount())
}

func TestHubNeverSendsStateOlderThanSnapshot(t *testing.T) {
	opened := time.Now()
	betting := phase.State{
		Phase: phase.PhaseBetting, MatchID: uuid.New(), RedFighter: "Ryu", BlueFighter: "Ken",
		Text: "Bets are OPEN!", UpdatedAt: opened,
	}
	locked := betting
	locked.Phase = phase.PhaseLocked
	locked.Text = "Bets are locked"
	locked.UpdatedAt = opened.Add(time.Second)

	// the machine already locked while its betting notice still sits in the queue
	source := &fakeSource{state: locked, queued: []phase.Notice{
		{Kind: phase.NoticePhase, Text: "Bets are OPEN!", State: betting},
		{Kind: phase.NoticeInfo, Text: "Good luck"},
	}}
	hub := NewHub(source, HubConfig{SendBuffer: 16}, nil)
	early := &client{hub: hub, send: make(chan []byte, 16)}
	hub.register(early)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	assert.Equal(t, "Bets are locked", nextEvent(t, early).(PhaseEvent).Text)
	assert.Equal(t, InfoEvent{Text: "Good luck"}, nextEvent(t, early))

	late := &client{hub: hub, send: make(chan []byte, 16)}
	hub.register(late)
	assert.Equal(t, "Bets are locked", nextEvent(t, late).(PhaseEvent).Text)

	// newer states still flow
	source.latest() <- phase.Notice{Kind: phase.NoticePhase, Text: "Ken wins!", State: phase.State{
		Phase: phase.PhaseResolving, MatchID: betting.MatchID, Text: "Ken wins!", UpdatedAt: opened.Add(2 * time.Second),
	}}
	assert.Equal(t, "Ken wins!", nextEvent(t, early).(PhaseEvent).Text)
	assert.Equal(t, "Ken wins!", nextEvent(t, late).(PhaseEvent).Text)
}

func TestDiscordAlerterPostsContent(t *testing.T) {
	bodies := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		bodies <- string(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	alerter := NewDiscordAlerter(srv.URL)
	alerter.Error(context.Background(), "gate close failed")
	alerter.Info(context.Background(), "one-sided match")

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(<-bodies), &payload))
	assert.Contains(t, payload["content"], "gate close failed")
	assert.Contains(t, payload["content"], "Error")

	require.NoError(t, json.Unmarshal([]byte(<-bodies), &payload))
	assert.Contains(t, payload["content"], "one-sided match")
}
