package secrets

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	box, err := NewBox(key)
	require.NoError(t, err)
	return box
}

func TestBox_RoundTrip(t *testing.T) {
	box := newTestBox(t)

	for _, plain := range []string{"hunter2", "p@ss with spaces", "пароль"} {
		enc, err := box.Encrypt(plain)
		require.NoError(t, err)
		assert.NotEqual(t, plain, enc)

		got, err := box.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestBox_EmptyPassthrough(t *testing.T) {
	box := newTestBox(t)

	enc, err := box.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, enc)

	got, err := box.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBox_NonceUnique(t *testing.T) {
	box := newTestBox(t)

	a, err := box.Encrypt("same")
	require.NoError(t, err)
	b, err := box.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "same plaintext must not produce same ciphertext")
}

func TestBox_WrongKeyFails(t *testing.T) {
	enc, err := newTestBox(t).Encrypt("secret")
	require.NoError(t, err)

	_, err = newTestBox(t).Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestBox_GarbageFails(t *testing.T) {
	box := newTestBox(t)

	_, err := box.Decrypt("not base64 at all!!!")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = box.Decrypt("YQ==") // valid base64, too short for a nonce
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewBox_RejectsShortKey(t *testing.T) {
	_, err := NewBox([]byte("short"))
	assert.Error(t, err)
}

func TestEnsureKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "master.key")

	key1, err := EnsureKeyFile(path)
	require.NoError(t, err)
	assert.Len(t, key1, 32)

	// Second call loads the same key instead of regenerating.
	key2, err := EnsureKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}
