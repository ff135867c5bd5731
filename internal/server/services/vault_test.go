package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/dmitrijs2005/passvault/internal/server/models"
	"github.com/dmitrijs2005/passvault/internal/server/repositories/vaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveGet_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryWork, "github.com", "alice@x", "s3cret!"))

	got, err := f.vaults.GetEntry(ctx, "alice", models.CategoryWork, "github.com", models.FieldBoth)
	require.NoError(t, err)
	assert.Equal(t, models.Credential{Subject: "alice@x", Secret: "s3cret!"}, got)

	got, err = f.vaults.GetEntry(ctx, "alice", models.CategoryWork, "github.com", models.FieldSubject)
	require.NoError(t, err)
	assert.Equal(t, models.Credential{Subject: "alice@x"}, got)

	got, err = f.vaults.GetEntry(ctx, "alice", models.CategoryWork, "github.com", models.FieldSecret)
	require.NoError(t, err)
	assert.Equal(t, models.Credential{Secret: "s3cret!"}, got)
}

func TestSaveEntry_PlaintextNeverStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryDefault, "site", "u", "plain-text-secret"))

	raw, err := f.backend.Get(ctx, vaults.ResourceName("alice", models.CategoryDefault))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plain-text-secret")
}

func TestGetEntry_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.vaults.GetEntry(ctx, "alice", models.CategoryDefault, "nowhere", models.FieldBoth)
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, f.vaults.CreateVault(ctx, "alice"))
	_, err = f.vaults.GetEntry(ctx, "alice", models.CategoryDefault, "nowhere", models.FieldBoth)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetEntry_CiphertextBoundToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryDefault, "bank", "alice", "pin"))

	// plant alice's vault under bob's name
	raw, err := f.backend.Get(ctx, vaults.ResourceName("alice", models.CategoryDefault))
	require.NoError(t, err)
	require.NoError(t, f.backend.Put(ctx, vaults.ResourceName("bob", models.CategoryDefault), raw))

	_, err = f.vaults.GetEntry(ctx, "bob", models.CategoryDefault, "bank", models.FieldSecret)
	require.ErrorIs(t, err, common.ErrCryptoFailure)

	// subject alone needs no key
	got, err := f.vaults.GetEntry(ctx, "bob", models.CategoryDefault, "bank", models.FieldSubject)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Subject)
}

func TestSaveEntry_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.vaults.SaveEntry(ctx, "", models.CategoryDefault, "k", "u", "p"), common.ErrValidation)
	assert.ErrorIs(t, f.vaults.SaveEntry(ctx, "../x", models.CategoryDefault, "k", "u", "p"), common.ErrValidation)
	assert.ErrorIs(t, f.vaults.SaveEntry(ctx, "alice", models.Category("games"), "k", "u", "p"), common.ErrValidation)
	assert.ErrorIs(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryDefault, "", "u", "p"), common.ErrValidation)
	assert.ErrorIs(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryDefault, "k", "u", ""), common.ErrValidation)

	_, err := f.vaults.ListVaults(ctx, "alice")
	assert.ErrorIs(t, err, common.ErrNotFound, "nothing may be written on validation failure")
}

func TestSaveEntry_ConcurrentDistinctKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 32

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			site := fmt.Sprintf("site-%02d", i)
			assert.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryWork, site, "u", "p"+site))
		}(i)
	}
	wg.Wait()

	keys, err := f.vaults.ListKeys(ctx, "alice", models.CategoryWork)
	require.NoError(t, err)
	assert.Len(t, keys, n)

	for i := 0; i < n; i++ {
		site := fmt.Sprintf("site-%02d", i)
		got, err := f.vaults.GetEntry(ctx, "alice", models.CategoryWork, site, models.FieldSecret)
		require.NoError(t, err)
		assert.Equal(t, "p"+site, got.Secret)
	}
}

func TestSaveEntry_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 16

	written := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		secret := fmt.Sprintf("secret-%d", i)
		written[secret] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryDefault, "same.com", "u", secret))
		}()
	}
	wg.Wait()

	keys, err := f.vaults.ListKeys(ctx, "alice", models.CategoryDefault)
	require.NoError(t, err)
	assert.Equal(t, []string{"same.com"}, keys)

	got, err := f.vaults.GetEntry(ctx, "alice", models.CategoryDefault, "same.com", models.FieldSecret)
	require.NoError(t, err)
	assert.True(t, written[got.Secret], "final value must be one of the written values, got %q", got.Secret)
}

func TestSaveEntry_CompletesAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryDefault, "late.com", "u", "p"))

	got, err := f.vaults.GetEntry(context.Background(), "alice", models.CategoryDefault, "late.com", models.FieldSecret)
	require.NoError(t, err)
	assert.Equal(t, "p", got.Secret)
}

func TestCreateVault_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.vaults.CreateVault(ctx, "alice"))
	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryDefault, "keep.me", "u", "p"))
	require.NoError(t, f.vaults.CreateVault(ctx, "alice"))
	require.NoError(t, f.vaults.CreateCategoryVault(ctx, "alice", models.CategoryDefault))

	keys, err := f.vaults.ListKeys(ctx, "alice", models.CategoryDefault)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.me"}, keys)

	assert.ErrorIs(t, f.vaults.CreateCategoryVault(ctx, "alice", "nope"), common.ErrValidation)
}

func TestCreateVault_DoesNotOverwriteCorrupted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	name := vaults.ResourceName("alice", models.CategoryDefault)
	require.NoError(t, f.backend.Put(ctx, name, []byte("{broken")))

	err := f.vaults.CreateVault(ctx, "alice")
	require.ErrorIs(t, err, common.ErrStorageCorrupted)

	raw, err := f.backend.Get(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "{broken", string(raw))

	_, err = f.vaults.ListKeys(ctx, "alice", models.CategoryDefault)
	require.ErrorIs(t, err, common.ErrStorageCorrupted)
}

func TestMalformedVault_IsCorruptedNotEmpty(t *testing.T) {
	for _, raw := range []string{
		`{}garbage`,
		`{}}`,
		`{"site.com":null}`,
	} {
		t.Run(raw, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			require.NoError(t, f.backend.Put(ctx, vaults.ResourceName("alice", models.CategoryWork), []byte(raw)))

			_, err := f.vaults.ListKeys(ctx, "alice", models.CategoryWork)
			require.ErrorIs(t, err, common.ErrStorageCorrupted)
			assert.NotErrorIs(t, err, common.ErrEmptyVault)

			_, err = f.vaults.GetEntry(ctx, "alice", models.CategoryWork, "site.com", models.FieldSecret)
			require.ErrorIs(t, err, common.ErrStorageCorrupted)
		})
	}
}

func TestUpdateEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryEmail, "mail.com", "alice", "old"))

	err := f.vaults.UpdateEntry(ctx, "alice", models.CategoryEmail, "mail.com", "mallory", "new")
	require.ErrorIs(t, err, common.ErrConflict)

	err = f.vaults.UpdateEntry(ctx, "alice", models.CategoryEmail, "other.com", "alice", "new")
	require.ErrorIs(t, err, common.ErrNotFound)

	err = f.vaults.UpdateEntry(ctx, "alice", models.CategoryWork, "mail.com", "alice", "new")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, f.vaults.UpdateEntry(ctx, "alice", models.CategoryEmail, "mail.com", "alice", "new"))
	got, err := f.vaults.GetEntry(ctx, "alice", models.CategoryEmail, "mail.com", models.FieldSecret)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Secret)
}

func TestRemoveEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategorySocial, "x.com", "alice", "p"))

	err := f.vaults.RemoveEntry(ctx, "alice", models.CategorySocial, "x.com", "bob")
	require.ErrorIs(t, err, common.ErrNotFound)
	err = f.vaults.RemoveEntry(ctx, "alice", models.CategorySocial, "y.com", "alice")
	require.ErrorIs(t, err, common.ErrNotFound)
	err = f.vaults.RemoveEntry(ctx, "alice", models.CategoryFinance, "x.com", "alice")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, f.vaults.RemoveEntry(ctx, "alice", models.CategorySocial, "x.com", "alice"))
	_, err = f.vaults.ListKeys(ctx, "alice", models.CategorySocial)
	require.ErrorIs(t, err, common.ErrEmptyVault)
}

func TestRemoveEntryEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryDefault, "dup.com", "a", "p"))
	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryWork, "dup.com", "b", "p"))
	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryWork, "keep.com", "b", "p"))
	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryEmail, "other.com", "c", "p"))

	n, err := f.vaults.RemoveEntryEverywhere(ctx, "alice", "dup.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := f.vaults.ListKeys(ctx, "alice", models.CategoryWork)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.com"}, keys)

	_, err = f.vaults.RemoveEntryEverywhere(ctx, "alice", "dup.com")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestListKeys_EmptyAndMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.vaults.ListKeys(ctx, "alice", models.CategoryDefault)
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, f.vaults.CreateVault(ctx, "alice"))
	_, err = f.vaults.ListKeys(ctx, "alice", models.CategoryDefault)
	require.ErrorIs(t, err, common.ErrEmptyVault)
}

func TestListVaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.vaults.ListVaults(ctx, "alice")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, f.vaults.SaveEntry(ctx, "alice", models.CategoryFinance, "bank", "a", "p"))
	require.NoError(t, f.vaults.CreateVault(ctx, "alice"))

	got, err := f.vaults.ListVaults(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []models.Category{models.CategoryDefault, models.CategoryFinance}, got)
}
