package gateway

import (
	"strings"

	"github.com/abrezinsky/chanpoll/internal/models"
)

// Command words the gateway routes to the poll service. "vote" is an
// alias kept for muscle memory.
var commandWords = map[string]bool{
	"poll": true,
	"vote": true,
}

// isCommand reports whether a chat line addresses the poll engine
func isCommand(text, prefix string) bool {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, prefix) {
		return false
	}
	fields := strings.Fields(strings.TrimPrefix(trimmed, prefix))
	return len(fields) > 0 && commandWords[fields[0]]
}

// handleCommand parses and executes a poll command. Authorization happens
// here, upstream of the engine: controlling polls takes operator level.
// Service errors carry user-facing messages and are sent to the channel
// as-is.
func (h *Hub) handleCommand(channel string, sender models.Sender, text string) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(text), h.prefix))
	args := fields[1:]

	if sender.Level < models.LevelOperator {
		h.SendLine(channel, "You are not allowed to control polls.")
		return
	}

	var err error
	switch {
	case len(args) == 0:
		h.SendLine(channel, "Usage: "+h.prefix+fields[0]+" <duration> <choice1> <choice2> [choices...]")
		return
	case args[0] == "abort" || args[0] == "stop":
		err = h.polls.Abort(channel)
	case args[0] == "end":
		err = h.polls.End(channel)
	default:
		err = h.polls.Start(channel, args[0], args[1:])
	}

	if err != nil {
		h.SendLine(channel, err.Error())
	}
}
