// Package storetest holds the behavior every store.Store driver shares.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/stretchr/testify/require"
)

func record(i int, sessionID string) store.Record {
	m := conversation.NewMessage(conversation.RoleUser,
		conversation.Parts{
			conversation.TextPart{Text: fmt.Sprintf("msg %d", i)},
			conversation.ImagePart{URL: fmt.Sprintf("https://img/%d.png", i)},
		},
		conversation.WithID(fmt.Sprintf("id-%02d", i)),
		conversation.WithCreatedAt(time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC)),
	)
	return store.NewRecord(sessionID, m)
}

func ids(records []store.Record) []string {
	ret := make([]string, 0, len(records))
	for _, r := range records {
		ret = append(ret, r.ID)
	}
	return ret
}

// Run exercises a driver. newStore must return an empty, open store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("ListRecentNewestFirst", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		for i := 1; i <= 5; i++ {
			require.NoError(t, s.Append(ctx, record(i, "s1")))
		}
		got, err := s.ListRecent(ctx, 3)
		require.NoError(t, err)
		require.Equal(t, []string{"id-05", "id-04", "id-03"}, ids(got))

		got, err = s.ListRecent(ctx, 50)
		require.NoError(t, err)
		require.Len(t, got, 5)
	})

	t.Run("RoundTripsRecordShape", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		want := record(7, "s1")
		require.NoError(t, s.Append(ctx, want))
		got, err := s.ListRecent(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, want.ID, got[0].ID)
		require.Equal(t, want.SessionID, got[0].SessionID)
		require.Equal(t, want.Role, got[0].Role)
		require.Equal(t, "msg 7", got[0].Text)
		require.Equal(t, want.Parts, got[0].Parts)
		require.True(t, want.CreatedAt.Equal(got[0].CreatedAt))
	})

	t.Run("FiltersBySession", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		require.NoError(t, s.Append(ctx, record(1, "a")))
		require.NoError(t, s.Append(ctx, record(2, "b")))
		require.NoError(t, s.Append(ctx, record(3, "a")))

		got, err := s.ListRecent(ctx, 10, store.ForSession("a"))
		require.NoError(t, err)
		require.Equal(t, []string{"id-03", "id-01"}, ids(got))
	})

	t.Run("RejectsDuplicatesAndBadLimits", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		require.NoError(t, s.Append(ctx, record(1, "a")))
		require.ErrorIs(t, s.Append(ctx, record(1, "a")), store.ErrDuplicateID)

		_, err := s.ListRecent(ctx, 0)
		require.ErrorIs(t, err, store.ErrInvalidLimit)

		got, err := s.ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("EmptyStoreListsNothing", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		got, err := s.ListRecent(ctx, 50)
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("ClosedStoreFails", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		require.ErrorIs(t, s.Append(ctx, record(1, "a")), store.ErrClosed)
		_, err := s.ListRecent(ctx, 1)
		require.ErrorIs(t, err, store.ErrClosed)
	})
}
