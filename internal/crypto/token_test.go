package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestParseKey_Base64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(testKey())
	key, err := ParseKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)
}

func TestParseKey_Hex(t *testing.T) {
	encoded := hex.EncodeToString(testKey())
	key, err := ParseKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)
}

func TestParseKey_WrongLength(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("short"))
	_, err := ParseKey(encoded)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseKey_Empty(t *testing.T) {
	_, err := ParseKey("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseKey_Garbage(t *testing.T) {
	_, err := ParseKey("!!not-a-key!!")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSealer_RoundTrip(t *testing.T) {
	sealer, err := NewSealer(testKey())
	require.NoError(t, err)

	sealed, err := sealer.Seal("lip_secrettoken")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "secrettoken")

	token, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "lip_secrettoken", token)
}

func TestSealer_NoncesDiffer(t *testing.T) {
	sealer, err := NewSealer(testKey())
	require.NoError(t, err)

	a, err := sealer.Seal("token")
	require.NoError(t, err)
	b, err := sealer.Seal("token")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSealer_TamperedCiphertext(t *testing.T) {
	sealer, err := NewSealer(testKey())
	require.NoError(t, err)

	sealed, err := sealer.Seal("token")
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	_, err = sealer.Open(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}

func TestSealer_BadKeyLength(t *testing.T) {
	_, err := NewSealer([]byte(strings.Repeat("k", 16)))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
