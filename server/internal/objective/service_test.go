package objective

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"junction-sim/server/internal/model"
)

func testCharacters() []model.Character {
	return []model.Character{
		{ID: "alex", Name: "Alex", ScoreImpact: 30, Objectives: []model.Objective{{ID: "listen"}, {ID: "feedback"}}},
		{ID: "jordan", Name: "Jordan", ScoreImpact: 30, Objectives: []model.Objective{{ID: "understand"}}},
	}
}

func TestServiceOpenRecordsDefaults(t *testing.T) {
	ctx := context.Background()
	chars := testCharacters()
	svc := NewService(NewInMemoryStore(), chars)

	recorded, err := svc.Recorded(ctx)
	require.NoError(t, err)
	assert.Empty(t, recorded)

	objs, err := svc.Open(ctx, chars[0])
	require.NoError(t, err)
	assert.Len(t, objs, 2)
	assert.Zero(t, model.CompletedCount(objs))

	recorded, err = svc.Recorded(ctx)
	require.NoError(t, err)
	assert.Contains(t, recorded, "alex")
	assert.NotContains(t, recorded, "jordan")
}

func TestServiceOpenReturnsStoredState(t *testing.T) {
	ctx := context.Background()
	chars := testCharacters()
	store := NewInMemoryStore()
	svc := NewService(store, chars)

	saved := []model.Objective{{ID: "listen", Completed: true}, {ID: "feedback"}}
	require.NoError(t, store.Put(ctx, "alex", saved))

	objs, err := svc.Open(ctx, chars[0])
	require.NoError(t, err)
	assert.Equal(t, saved, objs)
}

func TestServiceResetAll(t *testing.T) {
	ctx := context.Background()
	chars := testCharacters()
	svc := NewService(NewInMemoryStore(), chars)

	for _, c := range chars {
		_, err := svc.Open(ctx, c)
		require.NoError(t, err)
	}
	require.NoError(t, svc.ResetAll(ctx))

	recorded, err := svc.Recorded(ctx)
	require.NoError(t, err)
	assert.Empty(t, recorded)
}
