package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/agentworld/internal/profile"
	"github.com/hrygo/agentworld/store"
	"github.com/hrygo/agentworld/store/db/file"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Data: t.TempDir(), StorageType: "file", Mode: "dev"}
	driver, err := file.NewDriver(p)
	require.NoError(t, err)
	return store.New(driver, p)
}

func memoryMessage(id, chatID string, at time.Time) store.AgentMessage {
	return store.AgentMessage{
		MessageID: id,
		ChatID:    chatID,
		Role:      store.RoleUser,
		Sender:    "human",
		Content:   "content of " + id,
		CreatedAt: at,
	}
}

func TestRewriteAgentMemoryRemoves(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, st.AppendAgentMemory(ctx, "w1", "a1",
		memoryMessage("m1", "chat-a", base),
		memoryMessage("m2", "chat-b", base.Add(time.Second)),
		memoryMessage("m3", "chat-a", base.Add(2*time.Second)),
	))

	removed, err := st.RewriteAgentMemory(ctx, "w1", "a1", func(memory []store.AgentMessage) []store.AgentMessage {
		kept := memory[:0]
		for _, m := range memory {
			if m.ChatID != "chat-b" {
				kept = append(kept, m)
			}
		}
		return kept
	})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	memory, err := st.LoadAgentMemory(ctx, "w1", "a1")
	require.NoError(t, err)
	require.Len(t, memory, 2)
	assert.Equal(t, "m1", memory[0].MessageID)
	assert.Equal(t, "m3", memory[1].MessageID)
}

func TestRewriteAgentMemoryNoChange(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendAgentMemory(ctx, "w1", "a1",
		memoryMessage("m1", "chat-a", time.Now().UTC())))

	removed, err := st.RewriteAgentMemory(ctx, "w1", "a1", func(memory []store.AgentMessage) []store.AgentMessage {
		return memory
	})
	require.NoError(t, err)
	assert.Zero(t, removed)

	memory, err := st.LoadAgentMemory(ctx, "w1", "a1")
	require.NoError(t, err)
	assert.Len(t, memory, 1)
}

// A rewrite racing concurrent appends must lose neither the appended
// messages nor the removal; both run under the same memory key lock.
func TestRewriteAgentMemoryConcurrentAppends(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, st.AppendAgentMemory(ctx, "w1", "a1",
		memoryMessage("victim", "chat-b", base)))

	const appends = 20
	var wg sync.WaitGroup
	for i := 0; i < appends; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := memoryMessage(fmt.Sprintf("m%02d", i), "chat-a", base.Add(time.Duration(i+1)*time.Millisecond))
			assert.NoError(t, st.AppendAgentMemory(ctx, "w1", "a1", msg))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := st.RewriteAgentMemory(ctx, "w1", "a1", func(memory []store.AgentMessage) []store.AgentMessage {
			kept := memory[:0]
			for _, m := range memory {
				if m.ChatID != "chat-b" {
					kept = append(kept, m)
				}
			}
			return kept
		})
		assert.NoError(t, err)
	}()
	wg.Wait()

	memory, err := st.LoadAgentMemory(ctx, "w1", "a1")
	require.NoError(t, err)
	assert.Len(t, memory, appends)
	for _, m := range memory {
		assert.NotEqual(t, "victim", m.MessageID)
	}
}
