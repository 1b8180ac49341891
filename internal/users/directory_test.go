package users

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"lnhub/internal/chain"
	"lnhub/internal/lock"
	"lnhub/internal/testutil"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingImporter struct {
	mu        sync.Mutex
	addresses []string
	err       error
}

func (r *recordingImporter) ImportAddress(_ context.Context, address string, rescan bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses = append(r.addresses, address)
	return r.err
}

func newTestDirectory(t *testing.T) (*Directory, *testutil.MemoryStore, *testutil.FakeNode) {
	t.Helper()
	store := testutil.NewMemoryStore()
	node := testutil.NewFakeNode(&chaincfg.RegressionNetParams)
	return NewDirectory(store, node, lock.New(store), bcrypt.MinCost), store, node
}

var hexRE = regexp.MustCompile(`^[0-9a-f]+$`)

func TestCreateAndAuthenticate(t *testing.T) {
	d, store, _ := newTestDirectory(t)
	ctx := context.Background()

	creds, userID, err := d.Create(ctx, "bluewallet", "")
	require.NoError(t, err)
	assert.Regexp(t, hexRE, creds.Login)
	assert.Regexp(t, hexRE, creds.Password)
	assert.Len(t, userID, 64)

	raw, _ := store.Get(ctx, "user_"+creds.Login)
	assert.NotContains(t, raw, creds.Password, "only the bcrypt hash is stored")

	got, err := d.Authenticate(ctx, creds.Login, creds.Password)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, err = d.Authenticate(ctx, creds.Login, "wrong")
	assert.ErrorIs(t, err, ErrBadAuth)
	_, err = d.Authenticate(ctx, "nobody", creds.Password)
	assert.ErrorIs(t, err, ErrBadAuth)

	meta, err := d.Metadata(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "bluewallet", meta.PartnerID)
	assert.Equal(t, AccountCommon, meta.AccountType)

	_, err = d.Metadata(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestIssueTokens_RotationRevokesOldPair(t *testing.T) {
	d, _, _ := newTestDirectory(t)
	ctx := context.Background()

	first, err := d.IssueTokens(ctx, "u1")
	require.NoError(t, err)
	uid, err := d.ByAccessToken(ctx, first.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
	uid, err = d.ByRefreshToken(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	_, err = d.ByAccessToken(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrBadAuth, "a refresh token is not an access token")

	second, err := d.IssueTokens(ctx, "u1")
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	_, err = d.ByAccessToken(ctx, first.AccessToken)
	assert.ErrorIs(t, err, ErrBadAuth)
	_, err = d.ByRefreshToken(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrBadAuth)

	uid, err = d.ByAccessToken(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	_, err = d.ByAccessToken(ctx, "")
	assert.ErrorIs(t, err, ErrBadAuth)
}

func TestEnsureAddress(t *testing.T) {
	d, store, node := newTestDirectory(t)
	imp := &recordingImporter{}
	d.WithImporter(imp)
	ctx := context.Background()

	addr, err := d.Address(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, addr)

	addr, err = d.EnsureAddress(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, chain.ValidateAddress(addr, &chaincfg.RegressionNetParams))
	assert.Equal(t, []string{addr}, imp.addresses)

	again, err := d.EnsureAddress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Equal(t, 1, node.Calls("NewAddress"))
	assert.Equal(t, int64(-2), int64(store.TTL("generating_address_u1")), "lock released")
}

func TestEnsureAddress_LockHeld(t *testing.T) {
	d, store, node := newTestDirectory(t)
	ctx := context.Background()

	ok, err := lock.New(store).Obtain(ctx, lock.GeneratingAddressFor("u1"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = d.EnsureAddress(ctx, "u1")
	assert.ErrorIs(t, err, lock.ErrLockHeld)
	assert.Zero(t, node.Calls("NewAddress"))
}

func TestEnsureAddress_Errors(t *testing.T) {
	d, store, node := newTestDirectory(t)
	ctx := context.Background()

	node.Errors["NewAddress"] = errors.New("wallet locked")
	_, err := d.EnsureAddress(ctx, "u1")
	assert.ErrorContains(t, err, "wallet locked")
	assert.Equal(t, int64(-2), int64(store.TTL("generating_address_u1")))

	// Import failures are logged but do not lose the address.
	delete(node.Errors, "NewAddress")
	d.WithImporter(&recordingImporter{err: errors.New("rescan in progress")})
	addr, err := d.EnsureAddress(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, addr)
}
