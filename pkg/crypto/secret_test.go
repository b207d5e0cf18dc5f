package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSecretRoundTrip(t *testing.T) {
	for _, secret := range []string{"a", "correct horse battery staple", "ünïcødé", strings.Repeat("x", 4096)} {
		digest, err := HashSecret(secret)
		require.NoError(t, err)
		assert.True(t, VerifySecret(digest, secret), "secret %q should verify", secret)
		assert.False(t, VerifySecret(digest, secret+"!"))
	}
}

func TestHashSecretIsSalted(t *testing.T) {
	first, err := HashSecret("same-secret")
	require.NoError(t, err)
	second, err := HashSecret("same-secret")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, VerifySecret(first, "same-secret"))
	assert.True(t, VerifySecret(second, "same-secret"))
}

func TestHashSecretFormat(t *testing.T) {
	digest, err := HashSecret("s3cret")
	require.NoError(t, err)

	salt, sum, ok := strings.Cut(digest, ":")
	require.True(t, ok)
	assert.Len(t, salt, saltBytes*2)
	assert.Len(t, sum, 64)
	assert.NotContains(t, digest, "s3cret")
}

func TestVerifySecretFailsClosedOnMalformedDigest(t *testing.T) {
	valid, err := HashSecret("pw")
	require.NoError(t, err)
	salt, sum, _ := strings.Cut(valid, ":")

	cases := map[string]string{
		"empty":          "",
		"no separator":   salt + sum,
		"empty salt":     ":" + sum,
		"empty digest":   salt + ":",
		"bad salt hex":   "zz" + salt[2:] + ":" + sum,
		"bad digest hex": salt + ":" + "zz" + sum[2:],
		"short digest":   salt + ":" + sum[:10],
		"extra part":     valid + ":00",
		"plaintext":      "pw",
	}
	for name, stored := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, VerifySecret(stored, "pw"))
			})
		})
	}
}

func TestGenerateSecretIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		s, err := GenerateSecret()
		require.NoError(t, err)
		assert.Len(t, s, 43)
		_, dup := seen[s]
		require.False(t, dup, "duplicate secret generated")
		seen[s] = struct{}{}
	}
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	sealed, err := s.Seal("alice@example.com")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "alice")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", opened)

	empty, err := s.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.Open("bm90LXZhbGlk")
	assert.Error(t, err)
}

func TestNewSealerRejectsShortKey(t *testing.T) {
	_, err := NewSealer("short")
	assert.Error(t, err)
}
