package jsonl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/nstogner/agentx/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var key = domain.SessionKey{App: "agentx", User: "user", SessionID: "p-1"}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.GetSession(ctx, key)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = s.UpdateSession(ctx, key, func(*domain.SessionState) error { return nil })
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	state, err := s.CreateOrGetSession(ctx, key, nil)
	require.NoError(t, err)
	assert.Empty(t, state.Summary)

	updated, err := s.UpdateSession(ctx, key, func(st *domain.SessionState) error {
		st.SetText(domain.SlotTitle, "Landing Page")
		st.MergeFiles(map[string]string{"a.txt": "1"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Landing Page", updated.Title)

	// A fresh store over the same directory sees the last snapshot.
	reopened, err := New(s.dir)
	require.NoError(t, err)
	got, err := reopened.GetSession(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Landing Page", got.Title)
	assert.Equal(t, map[string]string{"a.txt": "1"}, got.Files)
}

func TestTornLineIsSkipped(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.CreateOrGetSession(ctx, key, &domain.SessionState{Summary: "kept"})
	require.NoError(t, err)

	f, err := os.OpenFile(s.path(key), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"state","state":{"summ`)
	require.NoError(t, err)
	f.Close()

	got, err := s.GetSession(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Summary)

	_, err = s.UpdateSession(ctx, key, func(st *domain.SessionState) error {
		st.SetText(domain.SlotTitle, "after torn write")
		return nil
	})
	require.NoError(t, err)

	reopened, err := New(s.dir)
	require.NoError(t, err)
	got, err = reopened.GetSession(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Summary)
	assert.Equal(t, "after torn write", got.Title)
}

func TestCreateAfterHeaderOnlyFile(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	// A create that died after writing the header, mid-way through the snapshot.
	err = os.WriteFile(s.path(key), []byte(`{"type":"session","timestamp":"2025-01-01T00:00:00Z"}`+"\n"+`{"type":"st`), 0o644)
	require.NoError(t, err)

	state, err := s.CreateOrGetSession(ctx, key, &domain.SessionState{Summary: "fresh"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", state.Summary)

	got, err := s.GetSession(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Summary)
}

func TestConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.CreateOrGetSession(ctx, key, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpdateSession(ctx, key, func(st *domain.SessionState) error {
				st.MergeFiles(map[string]string{fmt.Sprintf("f%d", i): "x"})
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.GetSession(ctx, key)
	require.NoError(t, err)
	assert.Len(t, got.Files, 20)
}

func TestSubscribeNotifiesOnUpdate(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ch := s.Subscribe()

	_, err = s.CreateOrGetSession(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, key, <-ch)

	boom := errors.New("boom")
	_, err = s.UpdateSession(ctx, key, func(*domain.SessionState) error { return boom })
	require.ErrorIs(t, err, boom)
	select {
	case k := <-ch:
		t.Fatalf("unexpected notification for %v", k)
	default:
	}
}
