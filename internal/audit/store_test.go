package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/config"
	"github.com/mattjoyce/wayguard/internal/log"
	"github.com/mattjoyce/wayguard/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "wayguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func grantEvent(typ authz.EventType, reason authz.Reason) authz.Event {
	return authz.Event{
		Type:   typ,
		Reason: reason,
		Grant: authz.Info{
			ID:          "g-1",
			Name:        "hotkeyd",
			Permissions: []string{"keybindings"},
			Command:     "my-hotkey-daemon",
			ClientID:    4,
		},
	}
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Record(ctx, grantEvent(authz.EventExecuted, "")))
	require.NoError(t, s.Record(ctx, grantEvent(authz.EventRevoked, authz.ReasonDisconnected)))
	other := grantEvent(authz.EventCreated, "")
	other.Grant.ID = "g-2"
	other.Grant.Command = ""
	require.NoError(t, s.Record(ctx, other))

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "g-2", all[0].GrantID, "newest first")
	assert.Empty(t, all[0].CommandHash)

	entries, err := s.List(ctx, "g-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	revoked := entries[0]
	assert.Equal(t, string(authz.EventRevoked), revoked.Event)
	assert.Equal(t, "disconnected", revoked.Reason)
	assert.Equal(t, []string{"keybindings"}, revoked.Permissions)
	assert.Equal(t, uint32(4), revoked.ClientID)
	assert.Equal(t, config.CommandFingerprint("my-hotkey-daemon"), revoked.CommandHash)
	assert.WithinDuration(t, time.Now(), revoked.CreatedAt, time.Minute)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	s.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	require.NoError(t, s.Record(ctx, grantEvent(authz.EventCreated, "")))
	s.now = time.Now
	require.NoError(t, s.Record(ctx, grantEvent(authz.EventExecuted, "")))

	n, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, string(authz.EventExecuted), left[0].Event)
}

func TestWriterFlushesOnCancel(t *testing.T) {
	s := newStore(t)
	w := NewWriter(s, 8)
	for range 3 {
		w.Submit(grantEvent(authz.EventCreated, ""))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	entries, err := s.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestWriterDropsWhenFull(t *testing.T) {
	s := newStore(t)
	w := NewWriter(s, 1)
	w.Submit(grantEvent(authz.EventCreated, ""))
	w.Submit(grantEvent(authz.EventExecuted, ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)
	<-w.Done()

	entries, err := s.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(authz.EventCreated), entries[0].Event)
}

func TestWriterStopFlushesAfterCancel(t *testing.T) {
	s := newStore(t)
	w := NewWriter(s, 8)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(context.WithoutCancel(ctx))
	cancel()

	w.Submit(grantEvent(authz.EventCreated, ""))
	w.Submit(grantEvent(authz.EventRevoked, authz.ReasonShutdown))
	w.Stop()
	w.Stop()

	entries, err := s.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, string(authz.EventRevoked), entries[0].Event)
	assert.Equal(t, string(authz.ReasonShutdown), entries[0].Reason)
}
