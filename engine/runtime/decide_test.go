package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/agentworld/engine/bus"
	"github.com/hrygo/agentworld/store"
)

func testAgent(name string, callCount int) *store.Agent {
	return &store.Agent{
		ID:           "agent-" + name,
		Name:         name,
		Provider:     "openai",
		Model:        "gpt-4o",
		LLMCallCount: callCount,
	}
}

func TestDecideIgnoresOwnMessages(t *testing.T) {
	agent := testAgent("alice", 0)

	d := Decide(agent, 5, bus.MessageEvent{Sender: "alice", Content: "hello"})
	assert.False(t, d.Respond)

	d = Decide(agent, 5, bus.MessageEvent{Sender: "agent-alice", Content: "hello"})
	assert.False(t, d.Respond)
}

func TestDecideIgnoresTurnLimitNotice(t *testing.T) {
	agent := testAgent("alice", 0)
	msg := bus.MessageEvent{
		Sender:  SenderWorld,
		Content: TurnLimitNotice(5),
	}
	d := Decide(agent, 5, msg)
	assert.False(t, d.Respond)
	assert.False(t, d.ResetCount)
	assert.False(t, d.TurnLimited)
}

func TestDecideRespondsToHuman(t *testing.T) {
	agent := testAgent("alice", 0)
	d := Decide(agent, 5, bus.MessageEvent{Sender: "human", Role: store.RoleUser, Content: "hi"})
	assert.True(t, d.Respond)
	assert.True(t, d.ResetCount)
}

func TestDecideHumanSenderIsCaseInsensitive(t *testing.T) {
	agent := testAgent("alice", 4)
	d := Decide(agent, 5, bus.MessageEvent{Sender: "HUMAN", Role: store.RoleUser, Content: "hi"})
	assert.True(t, d.Respond)
	assert.True(t, d.ResetCount, "human input must reset the turn scope")
}

func TestDecideResetBeatsTurnLimit(t *testing.T) {
	// Count at the limit, but the human message resets it first.
	agent := testAgent("alice", 5)
	d := Decide(agent, 5, bus.MessageEvent{Sender: "human", Role: store.RoleUser, Content: "hi"})
	assert.True(t, d.Respond)
	assert.True(t, d.ResetCount)
	assert.False(t, d.TurnLimited)
}

func TestDecideTurnLimitSuppressesAgentMention(t *testing.T) {
	agent := testAgent("alice", 5)
	d := Decide(agent, 5, bus.MessageEvent{Sender: "bob", Content: "@alice your move"})
	assert.False(t, d.Respond)
	assert.True(t, d.TurnLimited)
}

func TestDecideMentionFromAgent(t *testing.T) {
	agent := testAgent("alice", 1)
	d := Decide(agent, 5, bus.MessageEvent{Sender: "bob", Content: "@alice your move"})
	assert.True(t, d.Respond)
	assert.False(t, d.ResetCount)
}

func TestDecideUnmentionedAgentMessage(t *testing.T) {
	agent := testAgent("alice", 0)
	agent.AutoReply = true
	// Auto-reply only covers privileged senders, not agent chatter.
	d := Decide(agent, 5, bus.MessageEvent{Sender: "bob", Content: "thinking out loud"})
	assert.False(t, d.Respond)
}

func TestDecideAutoReplyOnSystem(t *testing.T) {
	agent := testAgent("alice", 0)
	agent.AutoReply = true
	d := Decide(agent, 5, bus.MessageEvent{Sender: "scheduler", Role: store.RoleSystem, Content: "tick"})
	assert.True(t, d.Respond)
	assert.True(t, d.ResetCount)
}

func TestIsTurnLimitNotice(t *testing.T) {
	assert.True(t, IsTurnLimitNotice(TurnLimitNotice(5)))
	assert.True(t, IsTurnLimitNotice("Turn limit reached (12 LLM calls). Agents are paused."))
	assert.False(t, IsTurnLimitNotice("turn limit reached"))
	assert.False(t, IsTurnLimitNotice("hello"))
}

func TestMentioned(t *testing.T) {
	tests := []struct {
		name    string
		content string
		agent   string
		want    bool
	}{
		{"paragraph start", "@alice please review", "alice", true},
		{"case insensitive", "@Alice please review", "alice", true},
		{"second paragraph", "intro text\n\n@alice now you", "alice", true},
		{"mid paragraph ignored", "hey @alice what do you think", "alice", false},
		{"prefix does not match", "@alicette hello", "alice", false},
		{"no mention", "nothing here", "alice", false},
		{"crlf paragraphs", "intro\r\n\r\n@alice go", "alice", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mentioned(tt.content, tt.agent))
		})
	}
}

func TestMentions(t *testing.T) {
	got := Mentions("@alice start\n\n@bob continue\n\n@Alice again")
	assert.Equal(t, []string{"alice", "bob"}, got)
}

func TestStripSelfMentions(t *testing.T) {
	assert.Equal(t, "I will handle it.", StripSelfMentions("@alice I will handle it.", "alice"))
	assert.Equal(t, "@bob over to you", StripSelfMentions("@bob over to you", "alice"))
	got := StripSelfMentions("@Alice first thought\n\n@alice second thought", "alice")
	assert.Equal(t, "first thought\n\nsecond thought", got)
}

func TestEnsureReplyMention(t *testing.T) {
	assert.Equal(t, "@bob sure", EnsureReplyMention("sure", "bob"))
	// Responses already carrying a mention are left alone.
	assert.Equal(t, "@carol your turn", EnsureReplyMention("@carol your turn", "bob"))
	assert.Equal(t, "sure", EnsureReplyMention("sure", ""))
}
