// Package users manages hub accounts: credentials, access and refresh
// tokens, account metadata and each user's on-chain deposit address.
package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lnhub/internal/lock"
	"lnhub/internal/lnd"
	"lnhub/pkg/kvstore"
	"lnhub/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadAuth      = errors.New("bad auth")
	ErrUserNotFound = errors.New("user not found")
)

const (
	AccountCommon = "common"
	AccountTest   = "test"
)

// Credentials are handed out once, at account creation.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type Metadata struct {
	PartnerID   string    `json:"partnerid"`
	AccountType string    `json:"accounttype"`
	CreatedAt   time.Time `json:"created_at"`
}

type account struct {
	UserID       string `json:"user_id"`
	PasswordHash string `json:"password_hash"`
}

// AddressImporter registers an address with a watch-only wallet.
type AddressImporter interface {
	ImportAddress(ctx context.Context, address string, rescan bool) error
}

type Directory struct {
	store      kvstore.Store
	node       lnd.NodeClient
	locker     *lock.Locker
	importer   AddressImporter
	bcryptCost int
	now        func() time.Time
}

func NewDirectory(store kvstore.Store, node lnd.NodeClient, locker *lock.Locker, bcryptCost int) *Directory {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Directory{
		store:      store,
		node:       node,
		locker:     locker,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// WithImporter makes newly generated addresses watch-only in imp.
func (d *Directory) WithImporter(imp AddressImporter) *Directory {
	d.importer = imp
	return d
}

func accountKey(login string) string       { return "user_" + login }
func metadataKey(userID string) string     { return "metadata_for_" + userID }
func accessKey(token string) string        { return "userid_for_" + token }
func refreshKey(token string) string       { return "userid_for_refresh_" + token }
func accessTokenFor(userID string) string  { return "access_token_for_" + userID }
func refreshTokenFor(userID string) string { return "refresh_token_for_" + userID }
func addressKey(userID string) string      { return "bitcoin_address_for_" + userID }

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Create registers a new account and returns its login and password.
func (d *Directory) Create(ctx context.Context, partnerID, accountType string) (*Credentials, string, error) {
	login, err := randomHex(10)
	if err != nil {
		return nil, "", err
	}
	password, err := randomHex(10)
	if err != nil {
		return nil, "", err
	}
	userID, err := randomHex(32)
	if err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}
	acc, err := json.Marshal(account{UserID: userID, PasswordHash: string(hash)})
	if err != nil {
		return nil, "", err
	}
	ok, err := d.store.SetNX(ctx, accountKey(login), string(acc), 0)
	if err != nil {
		return nil, "", fmt.Errorf("failed to save account: %w", err)
	}
	if !ok {
		return nil, "", fmt.Errorf("login collision for %s", login)
	}

	if accountType == "" {
		accountType = AccountCommon
	}
	meta, err := json.Marshal(Metadata{PartnerID: partnerID, AccountType: accountType, CreatedAt: d.now().UTC()})
	if err != nil {
		return nil, "", err
	}
	if err := d.store.Set(ctx, metadataKey(userID), string(meta), 0); err != nil {
		return nil, "", fmt.Errorf("failed to save metadata: %w", err)
	}

	logger.Info("Account created", zap.String("user_id", userID), zap.String("account_type", accountType))
	return &Credentials{Login: login, Password: password}, userID, nil
}

// Authenticate resolves a login and password to a user id.
func (d *Directory) Authenticate(ctx context.Context, login, password string) (string, error) {
	raw, err := d.store.Get(ctx, accountKey(login))
	if err != nil {
		return "", fmt.Errorf("failed to load account: %w", err)
	}
	if raw == "" {
		return "", ErrBadAuth
	}
	var acc account
	if err := json.Unmarshal([]byte(raw), &acc); err != nil {
		return "", fmt.Errorf("corrupt account record for %s: %w", login, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return "", ErrBadAuth
	}
	return acc.UserID, nil
}

// IssueTokens creates a fresh token pair and revokes the previous one.
func (d *Directory) IssueTokens(ctx context.Context, userID string) (*Tokens, error) {
	access, err := randomHex(20)
	if err != nil {
		return nil, err
	}
	refresh, err := randomHex(20)
	if err != nil {
		return nil, err
	}

	oldAccess, err := d.store.Get(ctx, accessTokenFor(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read current tokens: %w", err)
	}
	oldRefresh, err := d.store.Get(ctx, refreshTokenFor(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read current tokens: %w", err)
	}

	writes := [][2]string{
		{accessKey(access), userID},
		{refreshKey(refresh), userID},
		{accessTokenFor(userID), access},
		{refreshTokenFor(userID), refresh},
	}
	for _, w := range writes {
		if err := d.store.Set(ctx, w[0], w[1], 0); err != nil {
			return nil, fmt.Errorf("failed to save tokens: %w", err)
		}
	}

	var stale []string
	if oldAccess != "" {
		stale = append(stale, accessKey(oldAccess))
	}
	if oldRefresh != "" {
		stale = append(stale, refreshKey(oldRefresh))
	}
	if len(stale) > 0 {
		if _, err := d.store.Delete(ctx, stale...); err != nil {
			logger.Error("Failed to revoke old tokens", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return &Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// ByAccessToken resolves a bearer token to a user id.
func (d *Directory) ByAccessToken(ctx context.Context, token string) (string, error) {
	return d.byToken(ctx, accessKey, token)
}

func (d *Directory) ByRefreshToken(ctx context.Context, token string) (string, error) {
	return d.byToken(ctx, refreshKey, token)
}

func (d *Directory) byToken(ctx context.Context, key func(string) string, token string) (string, error) {
	if token == "" {
		return "", ErrBadAuth
	}
	userID, err := d.store.Get(ctx, key(token))
	if err != nil {
		return "", fmt.Errorf("failed to resolve token: %w", err)
	}
	if userID == "" {
		return "", ErrBadAuth
	}
	return userID, nil
}

func (d *Directory) Metadata(ctx context.Context, userID string) (*Metadata, error) {
	raw, err := d.store.Get(ctx, metadataKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	if raw == "" {
		return nil, ErrUserNotFound
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("corrupt metadata for %s: %w", userID, err)
	}
	return &m, nil
}

// Address returns the user's deposit address, or "" if none was generated.
func (d *Directory) Address(ctx context.Context, userID string) (string, error) {
	addr, err := d.store.Get(ctx, addressKey(userID))
	if err != nil {
		return "", fmt.Errorf("failed to load address for %s: %w", userID, err)
	}
	return addr, nil
}

// EnsureAddress returns the user's deposit address, generating one on first
// use. Concurrent callers are serialized by the generating_address lock; a
// caller that loses the race gets lock.ErrLockHeld.
func (d *Directory) EnsureAddress(ctx context.Context, userID string) (string, error) {
	addr, err := d.Address(ctx, userID)
	if err != nil || addr != "" {
		return addr, err
	}

	err = d.locker.With(ctx, lock.GeneratingAddressFor(userID), func() error {
		addr, err = d.generateAddress(ctx, userID)
		return err
	})
	return addr, err
}

func (d *Directory) generateAddress(ctx context.Context, userID string) (string, error) {
	fresh, err := d.node.NewAddress(ctx)
	if err != nil {
		logger.Error("NewAddress failed", zap.String("user_id", userID), zap.Error(err))
		return "", fmt.Errorf("failed to generate address: %w", err)
	}

	// The address is immutable once assigned.
	ok, err := d.store.SetNX(ctx, addressKey(userID), fresh, 0)
	if err != nil {
		return "", fmt.Errorf("failed to save address for %s: %w", userID, err)
	}
	if !ok {
		return d.Address(ctx, userID)
	}

	if d.importer != nil {
		if err := d.importer.ImportAddress(ctx, fresh, false); err != nil {
			logger.Error("Failed to import address as watch-only", zap.String("address", fresh), zap.Error(err))
		}
	}
	logger.Info("Generated deposit address", zap.String("user_id", userID), zap.String("address", fresh))
	return fresh, nil
}
