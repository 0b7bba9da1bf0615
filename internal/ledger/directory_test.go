package ledger_test

import (
	"context"
	"testing"

	"SimBank/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_OpenAndLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.dir.Open(ctx, ledger.OpenRequest{TeamID: "team-a", NotificationURL: "https://a.example/hook"})
	require.NoError(t, err)
	assert.True(t, ledger.ValidAccountNumber(acct.Number))
	assert.Equal(t, f.clock.Now(), acct.CreatedAt)

	byTeam, err := f.dir.ByTeam(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, acct.Number, byTeam.Number)
	assert.Equal(t, "https://a.example/hook", byTeam.NotificationURL)

	byNumber, err := f.dir.ByNumber(ctx, acct.Number)
	require.NoError(t, err)
	assert.Equal(t, "team-a", byNumber.TeamID)

	_, err = f.dir.ByTeam(ctx, "nobody")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestDirectory_OneOpenAccountPerTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dir.Open(ctx, ledger.OpenRequest{TeamID: "team-a"})
	require.NoError(t, err)
	_, err = f.dir.Open(ctx, ledger.OpenRequest{TeamID: "team-a"})
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}

func TestDirectory_ExplicitNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.dir.Open(ctx, ledger.OpenRequest{TeamID: "bank", Number: "000000000001"})
	require.NoError(t, err)
	assert.Equal(t, "000000000001", acct.Number)

	_, err = f.dir.Open(ctx, ledger.OpenRequest{TeamID: "other", Number: "000000000001"})
	assert.ErrorIs(t, err, ledger.ErrAccountExists)

	_, err = f.dir.Open(ctx, ledger.OpenRequest{TeamID: "other", Number: "12ab"})
	assert.ErrorIs(t, err, ledger.ErrInvalidAccountNumber)
}

func TestDirectory_CloseHidesFromListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, "team-a")
	f.open(t, "team-b")

	closed, err := f.dir.Close(ctx, "team-a")
	require.NoError(t, err)
	assert.True(t, closed.Closed())

	open, err := f.dir.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "team-b", open[0].TeamID)

	_, err = f.dir.ByTeam(ctx, "team-a")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	// Historical lookups by number still work.
	byNumber, err := f.dir.ByNumber(ctx, a)
	require.NoError(t, err)
	assert.True(t, byNumber.Closed())

	_, err = f.dir.Close(ctx, "team-a")
	assert.ErrorIs(t, err, ledger.ErrAccountClosed)

	reopened, err := f.dir.Open(ctx, ledger.OpenRequest{TeamID: "team-a"})
	require.NoError(t, err)
	assert.NotEqual(t, a, reopened.Number)
}

func TestDirectory_UpdateNotificationURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "team-a")

	acct, err := f.dir.UpdateNotificationURL(ctx, "team-a", "http://hooks.local/a")
	require.NoError(t, err)
	assert.Equal(t, "http://hooks.local/a", acct.NotificationURL)

	_, err = f.dir.UpdateNotificationURL(ctx, "team-a", "ftp://nope")
	assert.ErrorIs(t, err, ledger.ErrMissingField)

	_, err = f.dir.UpdateNotificationURL(ctx, "team-z", "http://hooks.local/z")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}
