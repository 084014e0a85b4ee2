package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"lodgemail/internal/db"
	"lodgemail/internal/types"
)

type fakeKeyStore struct {
	created   *db.APIKey
	createErr error
	revokedID string
	revokedAt time.Time
}

func (f *fakeKeyStore) Create(_ context.Context, key *db.APIKey) error {
	f.created = key
	return f.createErr
}

func (f *fakeKeyStore) Revoke(_ context.Context, id string, at time.Time) error {
	f.revokedID = id
	f.revokedAt = at
	return nil
}

type fakeSettingsStore struct {
	got *types.TenantSettings
	err error
}

func (f *fakeSettingsStore) UpsertSettings(_ context.Context, settings *types.TenantSettings) error {
	f.got = settings
	return f.err
}

func TestMintAPIKey(t *testing.T) {
	store := &fakeKeyStore{}

	presented, id, err := mintAPIKey(context.Background(), store, "tnt_1", "portal")
	require.NoError(t, err)

	parts := strings.SplitN(presented, "_", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "lm", parts[0])
	assert.Equal(t, id, parts[1])
	assert.Len(t, parts[1], keyIDBytes*2)
	assert.Len(t, parts[2], keySecretBytes*2)

	require.NotNil(t, store.created)
	assert.Equal(t, id, store.created.ID)
	assert.Equal(t, "tnt_1", store.created.TenantID)
	assert.Equal(t, "portal", store.created.Name)

	assert.NotContains(t, string(store.created.KeyHash), parts[2],
		"the secret must never be stored in the clear")
	assert.NoError(t, bcrypt.CompareHashAndPassword(store.created.KeyHash, []byte(parts[2])))
}

func TestRunAPIKeyCreate(t *testing.T) {
	store := &fakeKeyStore{}
	var out bytes.Buffer

	require.NoError(t, runAPIKeyCreate(context.Background(), store, &out, "tnt_1", "portal"))
	assert.Contains(t, out.String(), "lm_")
	assert.Contains(t, out.String(), "shown once")
}

func TestRunAPIKeyCreate_RequiresTenant(t *testing.T) {
	store := &fakeKeyStore{}
	var out bytes.Buffer

	err := runAPIKeyCreate(context.Background(), store, &out, "", "portal")
	require.Error(t, err)
	assert.Nil(t, store.created)
}

func TestRunAPIKeyCreate_StoreErrorDoesNotPrintKey(t *testing.T) {
	store := &fakeKeyStore{createErr: errors.New("insert failed")}
	var out bytes.Buffer

	err := runAPIKeyCreate(context.Background(), store, &out, "tnt_1", "")
	require.Error(t, err)
	assert.Empty(t, out.String())
}

func TestRunAPIKeyRevoke(t *testing.T) {
	store := &fakeKeyStore{}
	var out bytes.Buffer

	require.NoError(t, runAPIKeyRevoke(context.Background(), store, &out, "4f6d2a1b"))
	assert.Equal(t, "4f6d2a1b", store.revokedID)
	assert.False(t, store.revokedAt.IsZero())
	assert.Contains(t, out.String(), "revoked")

	require.Error(t, runAPIKeyRevoke(context.Background(), store, &out, ""))
}

func TestRunTenantSet(t *testing.T) {
	store := &fakeSettingsStore{}
	var out bytes.Buffer

	err := runTenantSet(context.Background(), store, &out, "tnt_1",
		"owner@example.com", []string{"ops@example.com", "billing@example.com"})
	require.NoError(t, err)

	require.NotNil(t, store.got)
	assert.Equal(t, "tnt_1", store.got.TenantID)
	assert.Equal(t, "owner@example.com", store.got.PrimaryEmail)
	assert.Equal(t, []string{"ops@example.com", "billing@example.com"}, store.got.AdditionalEmails)
}

func TestRunTenantSet_Validation(t *testing.T) {
	tests := []struct {
		name       string
		tenantID   string
		primary    string
		additional []string
	}{
		{name: "missing tenant", tenantID: "", primary: "owner@example.com"},
		{name: "bad primary", tenantID: "tnt_1", primary: "not-an-address"},
		{name: "bad additional", tenantID: "tnt_1", primary: "owner@example.com", additional: []string{"nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeSettingsStore{}
			err := runTenantSet(context.Background(), store, &bytes.Buffer{}, tt.tenantID, tt.primary, tt.additional)
			require.Error(t, err)
			assert.Nil(t, store.got, "nothing is written on validation failure")
		})
	}
}

func TestSplitEmails(t *testing.T) {
	assert.Nil(t, splitEmails(""))
	assert.Equal(t, []string{"a@x.com"}, splitEmails("a@x.com"))
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, splitEmails(" a@x.com , b@x.com ,"))
}
