package agentctx

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_addAndGetMessages(t *testing.T) {
	c := New(DefaultMaxLen)
	c.AddMessage(RoleUser, "hello")
	c.AddMessage(RoleAssistant, "hi there")

	msgs := c.GetMessages(0)
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
	}, msgs)
}

func TestContext_overflowDropsOldest(t *testing.T) {
	c := New(3)
	for i := 0; i < 5; i++ {
		c.AddMessage(RoleUser, fmt.Sprintf("m%d", i))
	}
	msgs := c.GetMessages(0)
	assert.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Content)
	assert.Equal(t, "m4", msgs[2].Content)
}

func TestContext_getMessagesRespectsLimit(t *testing.T) {
	c := New(DefaultMaxLen)
	for i := 0; i < 5; i++ {
		c.AddMessage(RoleUser, fmt.Sprintf("m%d", i))
	}
	msgs := c.GetMessages(2)
	assert.Len(t, msgs, 2)
	assert.Equal(t, "m3", msgs[0].Content)
	assert.Equal(t, "m4", msgs[1].Content)
}

func TestContext_reset(t *testing.T) {
	c := New(DefaultMaxLen)
	c.AddMessage(RoleUser, "x")
	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestContext_nonPositiveMaxLenUsesDefault(t *testing.T) {
	c := New(0)
	for i := 0; i < DefaultMaxLen+5; i++ {
		c.AddMessage(RoleUser, fmt.Sprintf("m%d", i))
	}
	assert.Equal(t, DefaultMaxLen, c.Len())
}

func TestContext_concurrentReadersSeeConsistentSnapshot(t *testing.T) {
	c := New(50)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.AddMessage(RoleUser, fmt.Sprintf("m%d", i))
		}(i)
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.GetMessages(0)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, c.Len())
}
