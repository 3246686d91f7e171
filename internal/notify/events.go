// Package notify pushes phase and info messages to connected browsers and
// escalates operator alerts.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"

	"soltybet/internal/phase"

	"github.com/google/uuid"
)

type EventType string

const (
	TypePhase EventType = "phase"
	TypeInfo  EventType = "info"
)

var (
	ErrEmptyText   = errors.New("event text is empty")
	ErrUnknownType = errors.New("unknown event type")
)

// Event is either a PhaseEvent or an InfoEvent
type Event interface {
	Type() EventType
	Validate() error
}

// PhaseEvent carries the lifecycle text plus the current match and volumes
type PhaseEvent struct {
	Text        string
	RedFighter  string
	BlueFighter string
	MatchID     uuid.UUID
	TotalRed    float64
	TotalBlue   float64
}

func (PhaseEvent) Type() EventType { return TypePhase }

func (e PhaseEvent) Validate() error {
	if e.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// InfoEvent is a one-off announcement such as "Payouts sent"
type InfoEvent struct {
	Text string
}

func (InfoEvent) Type() EventType { return TypeInfo }

func (e InfoEvent) Validate() error {
	if e.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// wireMessage is the JSON shape the frontend reads
type wireMessage struct {
	Type        EventType `json:"type"`
	Text        string    `json:"text"`
	RedFighter  string    `json:"redFighter,omitempty"`
	BlueFighter string    `json:"blueFighter,omitempty"`
	MatchID     string    `json:"match_id,omitempty"`
	TotalRed    *float64  `json:"total_red,omitempty"`
	TotalBlue   *float64  `json:"total_blue,omitempty"`
}

// Encode validates e and renders it in wire format
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, ErrUnknownType
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	msg := wireMessage{Type: e.Type()}
	switch ev := e.(type) {
	case PhaseEvent:
		msg.Text = ev.Text
		msg.RedFighter = ev.RedFighter
		msg.BlueFighter = ev.BlueFighter
		if ev.MatchID != uuid.Nil {
			msg.MatchID = ev.MatchID.String()
		}
		red, blue := ev.TotalRed, ev.TotalBlue
		msg.TotalRed = &red
		msg.TotalBlue = &blue
	case InfoEvent:
		msg.Text = ev.Text
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, e)
	}
	return json.Marshal(msg)
}

// Decode parses and validates a wire message
func Decode(data []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	var e Event
	switch msg.Type {
	case TypePhase:
		ev := PhaseEvent{Text: msg.Text, RedFighter: msg.RedFighter, BlueFighter: msg.BlueFighter}
		if msg.MatchID != "" {
			id, err := uuid.Parse(msg.MatchID)
			if err != nil {
				return nil, fmt.Errorf("invalid match_id: %w", err)
			}
			ev.MatchID = id
		}
		if msg.TotalRed != nil {
			ev.TotalRed = *msg.TotalRed
		}
		if msg.TotalBlue != nil {
			ev.TotalBlue = *msg.TotalBlue
		}
		e = ev
	case TypeInfo:
		e = InfoEvent{Text: msg.Text}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// FromState renders a machine snapshot as a phase event
func FromState(s phase.State) PhaseEvent {
	text := s.Text
	if text == "" {
		text = "Waiting for the next match"
	}
	return PhaseEvent{
		Text:        text,
		RedFighter:  s.RedFighter,
		BlueFighter: s.BlueFighter,
		MatchID:     s.MatchID,
		TotalRed:    s.Volumes.Red.InexactFloat64(),
		TotalBlue:   s.Volumes.Blue.InexactFloat64(),
	}
}

// FromNotice converts a machine notice into the event sent to clients
func FromNotice(n phase.Notice) Event {
	if n.Kind == phase.NoticeInfo {
		return InfoEvent{Text: n.Text}
	}
	ev := FromState(n.State)
	if n.Text != "" {
		ev.Text = n.Text
	}
	return ev
}
