package ingest

import (
	"strings"
)

// Message is a single decoded IRC line
type Message struct {
	Command string
	Channel string
	User    string
	UserID  string
	RoomID  string
	Text    string
	Tags    map[string]string
}

// ParseIRC decodes one IRC line, with optional IRCv3 tags, as sent by the Twitch chat gateway
func ParseIRC(raw string) (Message, bool) {
	line := strings.TrimRight(raw, "\r\n")
	if line == "" {
		return Message{}, false
	}

	var msg Message

	if strings.HasPrefix(line, "@") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return Message{}, false
		}
		msg.Tags = parseTags(line[1:sp])
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	var prefix string
	if strings.HasPrefix(line, ":") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return Message{}, false
		}
		prefix = line[1:sp]
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	var trailing string
	if i := strings.Index(line, " :"); i >= 0 {
		trailing = line[i+2:]
		line = line[:i]
	} else if strings.HasPrefix(line, ":") {
		trailing = line[1:]
		line = ""
	}

	params := strings.Fields(line)
	if len(params) == 0 {
		return Message{}, false
	}
	msg.Command = strings.ToUpper(params[0])
	msg.Text = trailing

	if len(params) > 1 && strings.HasPrefix(params[1], "#") {
		msg.Channel = strings.TrimPrefix(params[1], "#")
	}

	msg.User = msg.Tags["display-name"]
	if msg.User == "" {
		if bang := strings.IndexByte(prefix, '!'); bang > 0 {
			msg.User = prefix[:bang]
		}
	}
	msg.UserID = msg.Tags["user-id"]
	msg.RoomID = msg.Tags["room-id"]

	return msg, true
}

func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		k, v, _ := strings.Cut(pair, "=")
		if k != "" {
			tags[k] = v
		}
	}
	return tags
}
