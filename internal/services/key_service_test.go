package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/internal/store/storetest"
	"github.com/akagifreeez/coin-market-api/pkg/crypto"
)

func newKeyService(t *testing.T) (*KeyService, *storetest.Memory) {
	t.Helper()
	sealer, err := crypto.NewSealer("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	st := storetest.NewMemory()
	return NewKeyService(st, sealer, 100), st
}

func TestIssueStoresDigestNotSecret(t *testing.T) {
	svc, st := newKeyService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "  alice ", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", issued.Name)
	assert.NotEmpty(t, issued.Secret)

	k, ok := st.Snapshot("alice")
	require.True(t, ok)
	assert.NotEqual(t, issued.Secret, k.SecretDigest)
	assert.True(t, crypto.VerifySecret(k.SecretDigest, issued.Secret))
	assert.Equal(t, int64(100), k.DailyLimit)
	assert.NotContains(t, k.OwnerContact, "alice@")

	owner, err := svc.Owner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", owner)
}

func TestIssueRejectsBadNames(t *testing.T) {
	svc, _ := newKeyService(t)
	for _, name := range []string{"", "   ", "has space", "glob*", strings.Repeat("n", models.MaxKeyNameLength+1)} {
		_, err := svc.Issue(context.Background(), name, "")
		assert.ErrorIs(t, err, models.ErrInvalidInput, "name %q", name)
	}
}

func TestIssueCountsNameLengthInCharacters(t *testing.T) {
	svc, st := newKeyService(t)
	name := strings.Repeat("ü", models.MaxKeyNameLength)

	issued, err := svc.Issue(context.Background(), name, "")
	require.NoError(t, err)
	assert.Equal(t, name, issued.Name)
	_, ok := st.Snapshot(name)
	assert.True(t, ok)

	_, err = svc.Issue(context.Background(), name+"ü", "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestIssueDuplicateKeepsOriginal(t *testing.T) {
	svc, st := newKeyService(t)
	ctx := context.Background()

	first, err := svc.Issue(ctx, "alice", "")
	require.NoError(t, err)
	before, _ := st.Snapshot("alice")

	_, err = svc.Issue(ctx, "alice", "someone-else@example.com")
	assert.ErrorIs(t, err, models.ErrDuplicateName)

	after, _ := st.Snapshot("alice")
	assert.Equal(t, before, after)
	assert.True(t, crypto.VerifySecret(after.SecretDigest, first.Secret))
}
