// Package ingest turns the stream's chat relay into match signals.
package ingest

import (
	"log"
	"regexp"
	"strings"
)

type Kind int

const (
	KindBetsOpen Kind = iota + 1
	KindBetsLocked
	KindMatchEnd
)

func (k Kind) String() string {
	switch k {
	case KindBetsOpen:
		return "bets_open"
	case KindBetsLocked:
		return "bets_locked"
	case KindMatchEnd:
		return "match_end"
	default:
		return "unknown"
	}
}

const (
	markerOpen   = "Bets are OPEN"
	markerLocked = "Bets are locked"
	markerWins   = "wins!"
)

var (
	fightersRe = regexp.MustCompile(`for (.*?) vs (.*?)!`)
	durationRe = regexp.MustCompile(`\b(\d{1,2}(?::\d{2}){1,2})\b`)
)

// Event is one classified feed line. Red and Blue are set for bets-open,
// Winner and, when the line carries one, Duration for match-end.
type Event struct {
	Kind     Kind
	Red      string
	Blue     string
	Winner   string
	Duration string
	// Text is the display form of the line, cut at the first sentence
	Text string
}

// Parse classifies a chat line. Lines that are not match signals return ok == false.
func Parse(line string) (Event, bool) {
	line = strings.TrimSpace(line)

	switch {
	case strings.Contains(line, markerOpen):
		m := fightersRe.FindStringSubmatch(line)
		if m == nil {
			log.Printf("[Ingest] bets-open without fighter names: %q", line)
			return Event{}, false
		}
		red, blue := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if red == "" || blue == "" {
			log.Printf("[Ingest] bets-open with empty fighter name: %q", line)
			return Event{}, false
		}
		return Event{Kind: KindBetsOpen, Red: red, Blue: blue, Text: "Bets are OPEN!"}, true

	case strings.Contains(line, markerLocked):
		return Event{Kind: KindBetsLocked, Text: "Bets are locked"}, true

	case strings.Contains(line, markerWins):
		at := strings.Index(line, markerWins)
		winner := strings.TrimSpace(line[:at])
		if winner == "" {
			return Event{}, false
		}
		return Event{
			Kind:     KindMatchEnd,
			Winner:   winner,
			Duration: parseDuration(line[at+len(markerWins):]),
			Text:     firstSentence(line),
		}, true
	}

	return Event{}, false
}

// parseDuration picks an m:ss or h:mm:ss clock out of the first sentence after "wins!"
func parseDuration(rest string) string {
	if i := strings.Index(rest, "."); i >= 0 {
		rest = rest[:i]
	}
	return durationRe.FindString(rest)
}

func firstSentence(line string) string {
	if i := strings.Index(line, "."); i >= 0 {
		return line[:i+1]
	}
	return line
}
