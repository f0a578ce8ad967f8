package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/canvas/internal/artifact"
	"github.com/koopa0/canvas/internal/recovery"
	"github.com/koopa0/canvas/internal/resolve"
	"github.com/koopa0/canvas/internal/store"
	"github.com/koopa0/canvas/internal/testutil"
)

func testArtifact(identifier, payload string) *artifact.Artifact {
	return &artifact.Artifact{
		Identifier: identifier,
		Kind:       artifact.KindComponent,
		Title:      "Test Component",
		Files: []artifact.FileEntry{
			{Path: "App.jsx", Content: payload},
		},
		Dependencies: []artifact.Dependency{
			{Name: "react", Version: "18.2.0"},
		},
		Confidence: 1.0,
		MessageID:  uuid.New(),
	}
}

func TestStoreArtifactRevisions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db.Pool, nil)
	ctx := context.Background()

	original := testArtifact("card-demo", "export default () => <div/>;")
	rev, err := s.SaveArtifact(ctx, original)
	require.NoError(t, err)
	assert.Equal(t, 1, rev)

	// A corrected payload is a new revision, not an update.
	corrected := original.WithPayload("const styles = {};\nexport default () => <div/>;")
	rev, err = s.SaveArtifact(ctx, corrected)
	require.NoError(t, err)
	assert.Equal(t, 2, rev)

	got, err := s.GetArtifact(ctx, "card-demo")
	require.NoError(t, err)
	assert.Equal(t, corrected.Payload(), got.Payload())
	assert.Equal(t, artifact.KindComponent, got.Kind)
	assert.Equal(t, original.MessageID, got.MessageID)
	require.Len(t, got.Dependencies, 1)
	assert.Equal(t, "react", got.Dependencies[0].Name)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStoreGetArtifactNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db.Pool, nil)

	_, err := s.GetArtifact(context.Background(), "ghost")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStoreRejectsInvalidArtifact(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db.Pool, nil)

	_, err := s.SaveArtifact(context.Background(), &artifact.Artifact{Identifier: "x"})
	assert.Error(t, err)
}

func TestStoreListIdentifiers(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db.Pool, nil)
	ctx := context.Background()

	for _, id := range []string{"first", "second"} {
		_, err := s.SaveArtifact(ctx, testArtifact(id, "export default () => null;"))
		require.NoError(t, err)
	}

	ids, err := s.ListIdentifiers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first", "second"}, ids)
}

func TestStoreRecoveryHistory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db.Pool, nil)
	ctx := context.Background()

	results := []*recovery.Result{
		{
			Success:      false,
			BreakerState: recovery.BreakerClosed,
			Attempts: []resolve.Attempt{
				{Strategy: "import-removal", Reason: "no removable import statements"},
			},
			Elapsed: 12 * time.Millisecond,
		},
		{
			Success:      true,
			Strategy:     "style-module-conversion",
			Confidence:   0.9,
			BreakerState: recovery.BreakerClosed,
			Attempts: []resolve.Attempt{
				{Strategy: "style-module-conversion", Succeeded: true, Confidence: 0.9},
			},
			Elapsed: 34 * time.Millisecond,
		},
	}
	for _, res := range results {
		require.NoError(t, s.SaveRecovery(ctx, "card-demo", res))
	}

	history, err := s.ListRecoveries(ctx, "card-demo")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.False(t, history[0].Success)
	assert.Equal(t, "closed", history[0].BreakerState)
	require.Len(t, history[0].Attempts, 1)
	assert.Equal(t, "import-removal", history[0].Attempts[0].Strategy)

	assert.True(t, history[1].Success)
	assert.Equal(t, "style-module-conversion", history[1].Strategy)
	assert.Equal(t, 34*time.Millisecond, history[1].Elapsed)

	other, err := s.ListRecoveries(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, other)
}
