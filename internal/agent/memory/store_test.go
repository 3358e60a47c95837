package memory

import (
	"context"
	"testing"

	"github.com/dvloznov/finance-analyst/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	st := agent.State{
		ThreadID: "t1",
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "hi"}},
	}
	require.NoError(t, s.Put(ctx, "t1", st))

	got, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st, got)
	assert.Equal(t, 1, s.Len())
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	st := agent.State{
		ThreadID:   "t1",
		ResultData: []map[string]interface{}{{"revenue": "10"}},
		Messages:   []agent.Message{{Role: agent.RoleUser, Content: "hi"}},
	}
	require.NoError(t, s.Put(ctx, "t1", st))

	st.Messages[0].Content = "changed"
	st.ResultData[0]["revenue"] = "99"

	got, _, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Messages[0].Content)
	assert.Equal(t, "10", got.ResultData[0]["revenue"])

	got.Messages[0].Content = "again"
	again, _, _ := s.Get(ctx, "t1")
	assert.Equal(t, "hi", again.Messages[0].Content)
}

func TestStoreRejectsEmptyThread(t *testing.T) {
	s := NewStore()
	assert.Error(t, s.Put(context.Background(), "", agent.State{}))
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Put(ctx, "t1", agent.State{ThreadID: "t1"}))

	s.Delete(ctx, "t1")

	_, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}
