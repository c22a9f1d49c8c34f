package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestRoundTrip(t *testing.T) {
	v, err := NewFromHex(testKey)
	require.NoError(t, err)

	enc, err := v.Encrypt("whsec_abc")
	require.NoError(t, err)
	assert.NotContains(t, enc, "whsec_abc")

	again, err := v.Encrypt("whsec_abc")
	require.NoError(t, err)
	assert.NotEqual(t, enc, again, "nonce must differ per call")

	dec, err := v.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "whsec_abc", dec)
}

func TestDecryptWithWrongKey(t *testing.T) {
	v, err := NewFromHex(testKey)
	require.NoError(t, err)
	enc, err := v.Encrypt("secret")
	require.NoError(t, err)

	other, err := NewFromHex(strings.Repeat("ff", 32))
	require.NoError(t, err)
	_, err = other.Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestRejectsBadInput(t *testing.T) {
	_, err := NewFromHex("abcd")
	assert.Error(t, err)
	_, err = NewFromHex("zz")
	assert.Error(t, err)

	v, err := NewFromHex(testKey)
	require.NoError(t, err)
	_, err = v.Decrypt("00")
	assert.Error(t, err)
	_, err = v.Decrypt("not-hex")
	assert.Error(t, err)
}
