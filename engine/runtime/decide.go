package runtime

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hrygo/agentworld/engine/bus"
	"github.com/hrygo/agentworld/store"
)

// Reserved sender names. Everything else is assumed to be an agent.
const (
	SenderHuman = "human"
	SenderWorld = "world"
)

// turnLimitPattern recognizes the world's own turn-limit notification so
// agents never respond to it.
var turnLimitPattern = regexp.MustCompile(`Turn limit reached \(\d+ LLM calls\)`)

// TurnLimitNotice builds the single notification published when agents
// hit the world's turn limit.
func TurnLimitNotice(turnLimit int) string {
	return fmt.Sprintf("@%s Turn limit reached (%d LLM calls). Agents are paused until the next human message.",
		SenderHuman, turnLimit)
}

// IsTurnLimitNotice reports whether content is a turn-limit notification.
func IsTurnLimitNotice(content string) bool {
	return turnLimitPattern.MatchString(content)
}

// Decision is the outcome of the should-respond policy for one delivered
// message. It carries the required side effects as flags so the policy
// itself stays a pure function.
type Decision struct {
	Respond bool
	// ResetCount orders the caller to zero llmCallCount before anything
	// else: human, system and world input opens a fresh turn scope.
	ResetCount bool
	// TurnLimited marks a response suppressed by the turn limit; the
	// caller publishes one notification per turn scope.
	TurnLimited bool
}

// IsHumanSender matches the reserved human sender case-insensitively.
func IsHumanSender(sender string) bool {
	return strings.EqualFold(sender, SenderHuman)
}

// IsWorldSender matches the reserved world sender case-insensitively.
func IsWorldSender(sender string) bool {
	return strings.EqualFold(sender, SenderWorld)
}

// fromPrivileged reports whether the message opens a fresh turn scope.
func fromPrivileged(msg bus.MessageEvent) bool {
	return IsHumanSender(msg.Sender) || IsWorldSender(msg.Sender) || msg.Role == store.RoleSystem
}

// Decide applies the should-respond policy for one agent and message.
func Decide(agent *store.Agent, turnLimit int, msg bus.MessageEvent) Decision {
	var d Decision

	// Own messages are delivered back over the bus; never self-respond.
	if msg.Sender == agent.Name || msg.Sender == agent.ID {
		return d
	}
	if IsTurnLimitNotice(msg.Content) {
		return d
	}

	callCount := agent.LLMCallCount
	if fromPrivileged(msg) {
		d.ResetCount = true
		callCount = 0
	}

	if turnLimit > 0 && callCount >= turnLimit {
		d.TurnLimited = true
		return d
	}

	switch {
	case IsHumanSender(msg.Sender):
		d.Respond = true
	case Mentioned(msg.Content, agent.Name):
		d.Respond = true
	case agent.AutoReply && fromPrivileged(msg):
		d.Respond = true
	}
	return d
}
