package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/replicant/internal/cluster"
	"github.com/strrl/replicant/internal/corpus"
	"github.com/strrl/replicant/internal/model"
	"github.com/strrl/replicant/internal/participation"
	"github.com/strrl/replicant/internal/similarity"
	"github.com/strrl/replicant/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "model.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSet() *model.Set {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &model.Set{
		Meta: model.Meta{
			BuildID:        uuid.New(),
			BuiltAt:        ts.Add(time.Hour),
			Source:         "chat.jsonl",
			Participants:   []string{"a", "b"},
			GapThreshold:   15 * time.Minute,
			MaxClusterSize: 3,
			Messages:       3,
			Clusters:       2,
		},
		Messages: []corpus.Message{
			{ID: 10, UserID: "a", UserName: "Anna", Timestamp: ts, Text: "hi all", Tokens: []string{"hi", "all"}, Lemmas: []string{"hi", "all"}, ClusterID: 1},
			{ID: 11, UserID: "b", Timestamp: ts.Add(time.Minute), Text: "look", Media: "photo", ReplyTo: 10, ClusterID: 1},
			{ID: 12, UserID: "b", Timestamp: ts.Add(time.Hour), Text: "fwd", ForwardedFrom: "news", ClusterID: 2},
		},
		Profile: &cluster.LengthProfile{
			MaxLen: 3,
			Buckets: []cluster.Bucket{
				{Length: 1, Count: 1, Probability: 0.5, AvgMessageDelay: 12, AvgClusterDelay: 3540},
				{Length: 2, Count: 1, Probability: 0.5, AvgMessageDelay: 60, AvgClusterDelay: 708},
				{Length: 3, Probability: 0, AvgMessageDelay: 12, AvgClusterDelay: 708},
			},
		},
		Starters: &participation.StarterProfile{Entries: []participation.Starter{
			{UserID: "a", Name: "Anna", Starts: 1, Probability: 0.5, Types: participation.TypeDistribution{Text: 1}},
			{UserID: "b", Name: "b", Starts: 1, Probability: 0.5, Types: participation.TypeDistribution{Repost: 1}},
		}},
		Participation: &participation.Profile{ByStarter: map[string]*participation.Responders{
			"a": {Starter: "a", Name: "Anna", Clusters: 1, Total: 2, Rates: []participation.Rate{
				{UserID: "a", Name: "Anna", Messages: 1, Rate: 0.5},
				{UserID: "b", Name: "b", Messages: 1, Rate: 0.5},
			}},
			"b": {Starter: "b", Name: "b", Clusters: 1, Total: 1, Rates: []participation.Rate{
				{UserID: "b", Name: "b", Messages: 1, Rate: 1},
				{UserID: "a", Name: "Anna", Messages: 0, Rate: 0},
			}},
		}},
		Weights: similarity.WordWeights{"hi": 1, "all": 0.5},
	}
}

func TestNew_AppliesMigrations(t *testing.T) {
	s := newTestStore(t)

	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestLatestSchemaVersion_MatchesAppliedVersion(t *testing.T) {
	latest, err := store.LatestSchemaVersion()
	require.NoError(t, err)

	v, err := newTestStore(t).SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, v)
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.db")
	s, err := store.New(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.New(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestLoad_Empty(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, store.ErrNoModel)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := testSet()

	require.NoError(t, s.Save(ctx, want))
	got, err := s.Load(ctx)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("model mismatch (-want +got):\n%s", diff)
	}
}

func TestSave_ReplacesPreviousModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testSet()
	require.NoError(t, s.Save(ctx, first))

	second := testSet()
	second.Messages = second.Messages[:1]
	second.Weights = similarity.WordWeights{"hi": 1}
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Meta.BuildID, got.Meta.BuildID)
	assert.Len(t, got.Messages, 1)
	assert.Len(t, got.Weights, 1)
}
