package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/kernelpipe/dispatchoor/pkg/record"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	s := NewStore(log, &config.StoreConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})

	return s
}

func newCheckout(t *testing.T, s Store, commit string) *record.Record {
	t.Helper()

	rec, err := s.Create(context.Background(), &record.Record{
		Kind:  record.KindCheckout,
		Name:  "checkout",
		State: record.StateAvailable,
		Artifacts: map[string]string{
			"tarball": "http://storage/linux.tar.gz",
		},
		Data: record.Data{
			KernelRevision: record.KernelRevision{
				Tree:   "mainline",
				Branch: "master",
				Commit: commit,
			},
		},
		Path: []string{"checkout"},
	})
	require.NoError(t, err)

	return rec
}

func TestCreateAssignsIdentity(t *testing.T) {
	s := newTestStore(t)

	rec := newCheckout(t, s, "abcdef123456")
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Created.IsZero())

	got, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "http://storage/linux.tar.gz", got.Artifact("tarball"))
	assert.Equal(t, "mainline", got.Data.KernelRevision.Tree)
	assert.Equal(t, []string{"checkout"}, got.Path)
}

func TestCreateRequiresExistingParent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(context.Background(), &record.Record{
		Kind:   record.KindTest,
		Name:   "fstests",
		Parent: "no-such-id",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	// Non-checkout records must have a parent.
	_, err = s.Create(context.Background(), &record.Record{
		Kind: record.KindTest,
		Name: "fstests",
	})
	require.Error(t, err)
}

func TestGetUnknownRecord(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	checkout := newCheckout(t, s, "abcdef123456")

	child, err := s.Create(ctx, &record.Record{
		Kind:   record.KindTest,
		Name:   "fstests",
		Parent: checkout.ID,
		State:  record.StateRunning,
		Data: record.Data{
			KernelRevision: checkout.Data.KernelRevision,
		},
	})
	require.NoError(t, err)

	_, err = s.SetState(ctx, child.ID, record.StateDone, record.ResultPass)
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{
			name:   "by kind and state",
			filter: Filter{FieldKind: record.KindTest, FieldState: record.StateDone},
			want:   1,
		},
		{
			name:   "by parent",
			filter: Filter{FieldParent: checkout.ID},
			want:   1,
		},
		{
			name:   "by revision tree",
			filter: Filter{"data.kernel_revision.tree": "mainline"},
			want:   2,
		},
		{
			name:   "by revision tree no match",
			filter: Filter{"data.kernel_revision.tree": "next"},
			want:   0,
		},
		{
			name: "created after yesterday",
			filter: Filter{
				FieldCreatedAfter: time.Now().UTC().AddDate(0, 0, -1).Format(DateLayout),
			},
			want: 2,
		},
		{
			name: "created after tomorrow",
			filter: Filter{
				FieldCreatedAfter: time.Now().UTC().AddDate(0, 0, 1).Format(DateLayout),
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := s.Find(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, records, tt.want)
		})
	}
}

func TestSubscribeReceivesMatchingRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	subID := s.Subscribe(ChannelNode, Filter{
		FieldName:  "checkout",
		FieldState: record.StateAvailable,
	})
	defer func() {
		_ = s.Unsubscribe(subID)
	}()

	created := newCheckout(t, s, "abcdef123456")

	// A non-matching record must not be delivered.
	_, err := s.Create(ctx, &record.Record{
		Kind:   record.KindTest,
		Name:   "fstests",
		Parent: created.ID,
		State:  record.StateRunning,
	})
	require.NoError(t, err)

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	got, err := s.Receive(recvCtx, subID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	// No further matches pending.
	recvCtx2, cancel2 := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel2()

	_, err = s.Receive(recvCtx2, subID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReceiveAfterUnsubscribe(t *testing.T) {
	s := newTestStore(t)

	subID := s.Subscribe(ChannelNode, Filter{})
	require.NoError(t, s.Unsubscribe(subID))

	_, err := s.Receive(context.Background(), subID)
	require.Error(t, err)

	assert.Error(t, s.Unsubscribe(subID))
}

func TestSetStatePublishes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	checkout := newCheckout(t, s, "abcdef123456")

	subID := s.Subscribe(ChannelNode, Filter{FieldState: record.StateDone})
	defer func() {
		_ = s.Unsubscribe(subID)
	}()

	updated, err := s.SetState(ctx, checkout.ID, record.StateDone, record.ResultPass)
	require.NoError(t, err)
	assert.Equal(t, record.StateDone, updated.State)
	assert.Equal(t, record.ResultPass, updated.Result)

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	got, err := s.Receive(recvCtx, subID)
	require.NoError(t, err)
	assert.Equal(t, checkout.ID, got.ID)
	assert.Equal(t, record.ResultPass, got.Result)
}
