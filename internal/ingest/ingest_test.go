package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		line string
		ok   bool
		want Event
	}{
		{
			name: "bets open",
			line: "Bets are OPEN for Ryu vs Big Bad Wolf! (B Tier) (matchmaking) www.saltybet.com",
			ok:   true,
			want: Event{Kind: KindBetsOpen, Red: "Ryu", Blue: "Big Bad Wolf", Text: "Bets are OPEN!"},
		},
		{
			name: "bets open without names",
			line: "Bets are OPEN soon",
			ok:   false,
		},
		{
			name: "bets locked",
			line: "Bets are locked. Ryu (5) - $1,000, Big Bad Wolf (3) - $2,000",
			ok:   true,
			want: Event{Kind: KindBetsLocked, Text: "Bets are locked"},
		},
		{
			name: "match end",
			line: "Ryu wins! Payouts to Team Red. 12 more matches until the next tournament!",
			ok:   true,
			want: Event{Kind: KindMatchEnd, Winner: "Ryu", Text: "Ryu wins! Payouts to Team Red."},
		},
		{
			name: "match end with duration",
			line: "Ken wins! Fight time 1:23. Payouts to Team Blue.",
			ok:   true,
			want: Event{Kind: KindMatchEnd, Winner: "Ken", Duration: "1:23", Text: "Ken wins! Fight time 1:23."},
		},
		{
			name: "match end with long duration",
			line: "Team Blue wins! (0:04:05)",
			ok:   true,
			want: Event{Kind: KindMatchEnd, Winner: "Team Blue", Duration: "0:04:05", Text: "Team Blue wins! (0:04:05)"},
		},
		{
			name: "unrelated",
			line: "Tournament mode will be activated after the next match!",
			ok:   false,
		},
		{
			name: "wins without winner",
			line: " wins!",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseIRCPrivmsg(t *testing.T) {
	raw := "@badge-info=;color=#FF0000;display-name=WAIFU4u;room-id=22612690;user-id=55853880 " +
		":waifu4u!waifu4u@waifu4u.tmi.twitch.tv PRIVMSG #saltybet :Bets are locked. Ryu (5) - $1\r\n"

	msg, ok := ParseIRC(raw)
	require.True(t, ok)
	assert.Equal(t, "PRIVMSG", msg.Command)
	assert.Equal(t, "saltybet", msg.Channel)
	assert.Equal(t, "WAIFU4u", msg.User)
	assert.Equal(t, "55853880", msg.UserID)
	assert.Equal(t, "22612690", msg.RoomID)
	assert.Equal(t, "Bets are locked. Ryu (5) - $1", msg.Text)
}

func TestParseIRCPing(t *testing.T) {
	msg, ok := ParseIRC("PING :tmi.twitch.tv")
	require.True(t, ok)
	assert.Equal(t, "PING", msg.Command)
	assert.Equal(t, "tmi.twitch.tv", msg.Text)

	_, ok = ParseIRC("")
	assert.False(t, ok)
}

func TestBackoffIsCapped(t *testing.T) {
	c := NewFeedClient(FeedConfig{ReconnectMinDelay: time.Second, ReconnectMaxDelay: 10 * time.Second}, nil, nil, nil)

	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 8*time.Second, c.backoff(4))
	assert.Equal(t, 10*time.Second, c.backoff(5))
	assert.Equal(t, 10*time.Second, c.backoff(50))
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Submit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestFeedClientSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	pong := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// CAP, NICK, JOIN
		for i := 0; i < 3; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}

		frames := []string{
			"PING :tmi.twitch.tv\r\n",
			"@display-name=someone;room-id=1;user-id=999 :someone!someone@x PRIVMSG #saltybet :Bets are locked\r\n",
			"@display-name=WAIFU4u;room-id=1;user-id=42 :waifu4u!waifu4u@x PRIVMSG #saltybet :Bets are OPEN for A vs B! (S Tier)\r\n" +
				"@display-name=WAIFU4u;room-id=1;user-id=42 :waifu4u!waifu4u@x PRIVMSG #saltybet :Bets are locked. A (1) - $10\r\n",
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}

		_, data, err := conn.ReadMessage()
		if err == nil {
			pong <- string(data)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	sink := &recordingSink{}
	cfg := DefaultFeedConfig("ws"+strings.TrimPrefix(server.URL, "http"), "saltybet")
	cfg.TargetUserID = "42"
	cfg.TargetRoomID = "1"
	client := NewFeedClient(cfg, sink, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case got := <-pong:
		assert.Equal(t, "PONG :tmi.twitch.tv\r\n", got)
	case <-time.After(5 * time.Second):
		t.Fatal("no PONG received")
	}

	require.Eventually(t, func() bool { return len(sink.Events()) == 2 }, 5*time.Second, 10*time.Millisecond)
	events := sink.Events()
	assert.Equal(t, KindBetsOpen, events[0].Kind)
	assert.Equal(t, "A", events[0].Red)
	assert.Equal(t, KindBetsLocked, events[1].Kind)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("feed client did not stop")
	}
}
