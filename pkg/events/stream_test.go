package events

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_publishAndNextPreservesOrder(t *testing.T) {
	s := NewStream(4)
	s.Publish(NewAgentMessage("planner", "first"))
	s.Publish(NewAgentMessage("solver", "second"))

	ctx := context.Background()
	ev1, ok := s.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "first", ev1.Message.Message)

	ev2, ok := s.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "second", ev2.Message.Message)
}

func TestStream_fullQueueDropsOldestAgentMessageNotNewest(t *testing.T) {
	s := NewStream(2)
	s.Publish(NewAgentMessage("a", "one"))
	s.Publish(NewAgentMessage("a", "two"))
	s.Publish(NewAgentMessage("a", "three")) // queue at capacity; "one" evicted

	ctx := context.Background()
	ev, ok := s.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "two", ev.Message.Message)

	ev, ok = s.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "three", ev.Message.Message)
}

func TestStream_workflowStatusNeverDroppedEvenWhenQueueSaturated(t *testing.T) {
	s := NewStream(1)
	s.Publish(NewStatus(StatusRunning, ""))
	s.Publish(NewStatus(StatusCompleted, "")) // critical; both must survive

	ctx := context.Background()
	ev1, ok := s.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, ev1.Status.Status)

	ev2, ok := s.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, ev2.Status.Status)
}

func TestStream_agentMessageDroppedWhenQueueSaturatedWithOnlyCriticalEvents(t *testing.T) {
	s := NewStream(1)
	s.Publish(NewStatus(StatusRunning, "")) // fills the one slot, critical
	s.Publish(NewAgentMessage("a", "dropped"))

	ctx := context.Background()
	ev, ok := s.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, ev.Status.Status)

	// nothing else queued: the agent_message was dropped outright
	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok = s.Next(shortCtx)
	assert.False(t, ok)
}

func TestStream_closeDrainsPendingThenReturnsFalse(t *testing.T) {
	s := NewStream(4)
	s.Publish(NewAgentMessage("a", "pending"))
	s.Close()

	ctx := context.Background()
	ev, ok := s.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "pending", ev.Message.Message)

	_, ok = s.Next(ctx)
	assert.False(t, ok)
}

func TestStream_nextUnblocksOnContextCancel(t *testing.T) {
	s := NewStream(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := s.Next(ctx)
	assert.False(t, ok)
}

func TestHub_openReturnsSameStreamForSameSession(t *testing.T) {
	h := NewHub()
	s1 := h.Open("sess-1")
	s2 := h.Open("sess-1")
	assert.Same(t, s1, s2)

	_, ok := h.Get("sess-2")
	assert.False(t, ok)
}

func TestWriteSSE_framesEventTypeAndJSONData(t *testing.T) {
	var sb strings.Builder
	err := WriteSSE(&sb, NewAgentMessage("verifier", "looks good"))
	require.NoError(t, err)
	out := sb.String()
	assert.True(t, strings.HasPrefix(out, "event: agent_message\n"))
	assert.True(t, strings.HasSuffix(out, "\n\n"))
	assert.Contains(t, out, `"message":"looks good"`)
}
