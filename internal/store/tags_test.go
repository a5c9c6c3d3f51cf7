package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metagram-net/metagram.net-sub000/internal/store"
	"github.com/metagram-net/metagram.net-sub000/internal/testutil"
)

func TestCreateUser_NormalizesAndRejectsDuplicates(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "  Reader@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", u.Email)

	_, err = s.CreateUser(ctx, "reader@example.com")
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTags_CreateFindUpdate(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()
	u := testutil.CreateUser(t, s)
	other := testutil.CreateUser(t, s)

	plain, err := s.CreateTag(ctx, u.ID, "plain", "")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultTagColor, plain.Color)

	_, err = s.CreateTag(ctx, u.ID, "plain", "#000000")
	assert.ErrorIs(t, err, store.ErrDuplicate)
	// Names are unique per user only.
	_, err = s.CreateTag(ctx, other.ID, "plain", "")
	require.NoError(t, err)

	// By name: found, not recreated; the requested color is ignored.
	again, err := s.FindOrCreateTag(ctx, u.ID, store.TagSelector{Name: "plain", Color: "#123456"})
	require.NoError(t, err)
	assert.Equal(t, plain.ID, again.ID)
	assert.Equal(t, store.DefaultTagColor, again.Color)

	created, err := s.FindOrCreateTag(ctx, u.ID, store.TagSelector{Name: "fresh", Color: "#123456"})
	require.NoError(t, err)
	assert.Equal(t, "#123456", created.Color)

	// By id: must exist and belong to the user.
	_, err = s.FindOrCreateTag(ctx, other.ID, store.TagSelector{ID: &plain.ID})
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	_, err = s.FindOrCreateTag(ctx, u.ID, store.TagSelector{})
	assert.Error(t, err)

	name := "renamed"
	updated, err := s.UpdateTag(ctx, u.ID, plain.ID, &name, nil)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, store.DefaultTagColor, updated.Color)

	dup := "fresh"
	_, err = s.UpdateTag(ctx, u.ID, plain.ID, &dup, nil)
	assert.ErrorIs(t, err, store.ErrDuplicate)
	_, err = s.UpdateTag(ctx, other.ID, plain.ID, &name, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	found, err := s.FindTags(ctx, u.ID, []uuid.UUID{plain.ID, created.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "fresh", found[0].Name)
	assert.Equal(t, "renamed", found[1].Name)

	all, err := s.ListTags(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInTx_NestedSavepointRollsBackAlone(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Tx(ctx, func(q *store.Queries) error {
		if _, err := q.CreateUser(ctx, "outer@example.com"); err != nil {
			return err
		}
		inner := q.InTx(ctx, func(q *store.Queries) error {
			if _, err := q.CreateUser(ctx, "inner@example.com"); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, inner, boom)
		return nil
	})
	require.NoError(t, err)

	var emails []string
	rows, err := s.Pool().Query(ctx, `SELECT email FROM users ORDER BY email`)
	require.NoError(t, err)
	for rows.Next() {
		var e string
		require.NoError(t, rows.Scan(&e))
		emails = append(emails, e)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"outer@example.com"}, emails)
}
