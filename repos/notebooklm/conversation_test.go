package notebooklm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

func TestConversationCacheHistoryReplay(t *testing.T) {
	c := NewConversationCache(0)
	const n = 3
	for i := 1; i <= n; i++ {
		turn := c.Append("conv", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		assert.Equal(t, i, turn.TurnNumber)
	}

	history := c.BuildHistory("conv")
	require.Len(t, history, 2*n)
	for i := 0; i < n; i++ {
		assert.Equal(t, []any{fmt.Sprintf("a%d", i+1), nil, vo.HistoryRoleAssistant}, history[2*i])
		assert.Equal(t, []any{fmt.Sprintf("q%d", i+1), nil, vo.HistoryRoleUser}, history[2*i+1])
	}
}

func TestConversationCacheIsolation(t *testing.T) {
	c := NewConversationCache(0)
	c.Append("a", "q", "ans")

	assert.Nil(t, c.BuildHistory("b"))
	assert.Zero(t, c.Len("b"))
	assert.Equal(t, 1, c.Len("a"))

	turns := c.History("a")
	turns[0].Answer = "mutated"
	assert.Equal(t, "ans", c.History("a")[0].Answer)
}

func TestConversationCacheClear(t *testing.T) {
	c := NewConversationCache(0)
	c.Append("conv", "q", "a")

	assert.True(t, c.Clear("conv"))
	assert.False(t, c.Clear("conv"))
	assert.Nil(t, c.History("conv"))
}

func TestConversationCacheTTL(t *testing.T) {
	c := NewConversationCache(20 * time.Millisecond)
	c.Append("conv", "q", "a")
	require.Equal(t, 1, c.Len("conv"))

	assert.Eventually(t, func() bool { return c.Len("conv") == 0 }, time.Second, 10*time.Millisecond)
}

func TestConversationCacheConcurrentAppend(t *testing.T) {
	c := NewConversationCache(0)
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Append("conv", fmt.Sprintf("q%d", i), "a")
		}(i)
	}
	wg.Wait()

	turns := c.History("conv")
	require.Len(t, turns, n)
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.TurnNumber)
	}
}

func TestConversationCacheAcquire(t *testing.T) {
	c := NewConversationCache(0)
	release, err := c.Acquire(context.Background(), "conv")
	require.NoError(t, err)

	// other conversations are not blocked
	other, err := c.Acquire(context.Background(), "other")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx, "conv")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	again, err := c.Acquire(context.Background(), "conv")
	require.NoError(t, err)
	again()

	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	assert.Empty(t, c.locks)
}
