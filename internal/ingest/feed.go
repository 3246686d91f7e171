package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"soltybet/internal/metrics"

	"github.com/gorilla/websocket"
)

// Sink receives classified events. Submit must not block.
type Sink interface {
	Submit(Event)
}

// Alerter escalates feed failures to operators
type Alerter interface {
	Error(ctx context.Context, msg string)
}

// FeedConfig holds chat relay connection settings
type FeedConfig struct {
	URL          string
	Channel      string
	Nick         string
	TargetUserID string
	TargetRoomID string

	ReconnectMinDelay    time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int // 0 = unlimited

	// ReadTimeout bounds silence on the socket; the gateway pings every few minutes
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultFeedConfig returns settings for an anonymous Twitch chat session
func DefaultFeedConfig(url, channel string) FeedConfig {
	return FeedConfig{
		URL:               url,
		Channel:           channel,
		Nick:              "justinfan12345",
		ReconnectMinDelay: time.Second,
		ReconnectMaxDelay: time.Minute,
		ReadTimeout:       6 * time.Minute,
		WriteTimeout:      10 * time.Second,
	}
}

var ErrTooManyReconnects = errors.New("feed: max reconnect attempts exceeded")

// FeedClient reads the stream's chat and forwards match signals to a Sink
type FeedClient struct {
	config  FeedConfig
	sink    Sink
	alerter Alerter
	metrics *metrics.Metrics
	dialer  *websocket.Dialer
}

func NewFeedClient(config FeedConfig, sink Sink, alerter Alerter, m *metrics.Metrics) *FeedClient {
	if config.Nick == "" {
		config.Nick = "justinfan12345"
	}
	return &FeedClient{
		config:  config,
		sink:    sink,
		alerter: alerter,
		metrics: m,
		dialer:  websocket.DefaultDialer,
	}
}

// Run keeps a chat session alive until ctx is cancelled or the reconnect budget is spent
func (c *FeedClient) Run(ctx context.Context) error {
	attempts := 0
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempts = 0
		}
		attempts++

		if c.config.ReconnectMaxAttempts > 0 && attempts > c.config.ReconnectMaxAttempts {
			c.alert(ctx, fmt.Sprintf("Feed: giving up after %d reconnect attempts: %v", c.config.ReconnectMaxAttempts, err))
			return ErrTooManyReconnects
		}

		delay := c.backoff(attempts)
		log.Printf("[Feed] disconnected: %v, reconnecting in %s (attempt %d)", err, delay, attempts)
		if attempts == 1 {
			c.alert(ctx, fmt.Sprintf("Feed disconnected: %v", err))
		}
		c.metrics.FeedReconnect()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoff grows min*2^(attempt-1) up to the configured max
func (c *FeedClient) backoff(attempt int) time.Duration {
	delay := c.config.ReconnectMinDelay
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.config.ReconnectMaxDelay > 0 && delay >= c.config.ReconnectMaxDelay {
			return c.config.ReconnectMaxDelay
		}
	}
	return delay
}

func (c *FeedClient) session(ctx context.Context) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for _, line := range []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"NICK " + c.config.Nick,
		"JOIN #" + strings.ToLower(c.config.Channel),
	} {
		if err := c.write(conn, line); err != nil {
			return false, fmt.Errorf("handshake failed: %w", err)
		}
	}
	log.Printf("[Feed] joined #%s", c.config.Channel)

	for {
		if c.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		for _, line := range strings.Split(string(data), "\r\n") {
			if err := c.handleLine(conn, line); err != nil {
				return true, err
			}
		}
	}
}

func (c *FeedClient) handleLine(conn *websocket.Conn, line string) error {
	msg, ok := ParseIRC(line)
	if !ok {
		return nil
	}

	switch msg.Command {
	case "PING":
		return c.write(conn, "PONG :"+msg.Text)
	case "RECONNECT":
		return errors.New("server requested reconnect")
	case "PRIVMSG":
		c.Dispatch(msg)
	}
	return nil
}

// Dispatch filters a chat message to the configured target and forwards its signal
func (c *FeedClient) Dispatch(msg Message) {
	if c.config.TargetUserID != "" && msg.UserID != c.config.TargetUserID {
		return
	}
	if c.config.TargetRoomID != "" && msg.RoomID != c.config.TargetRoomID {
		return
	}

	event, ok := Parse(msg.Text)
	if !ok {
		return
	}

	log.Printf("[Feed] %s: %s", event.Kind, msg.Text)
	c.metrics.IngestEvent(event.Kind.String())
	c.sink.Submit(event)
}

func (c *FeedClient) write(conn *websocket.Conn, line string) error {
	if c.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
}

func (c *FeedClient) alert(ctx context.Context, msg string) {
	if c.alerter != nil {
		c.alerter.Error(context.WithoutCancel(ctx), msg)
	}
}
