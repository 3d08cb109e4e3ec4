package signing

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const release = "Origin: ayd\nArchitectures: amd64\nComponents: main\n"

func generateKey(t *testing.T) (*openpgp.Entity, string) {
	entity, err := openpgp.NewEntity("Test", "test", "test@example.com", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())
	return entity, buf.String()
}

func TestSigner(t *testing.T) {
	entity, key := generateKey(t)

	path := filepath.Join(t.TempDir(), "key.asc")
	require.NoError(t, os.WriteFile(path, []byte(key), 0600))

	s, err := LoadSigner(path, "")
	require.NoError(t, err)
	keyring := openpgp.EntityList{entity}

	t.Run("clearsign", func(t *testing.T) {
		out, err := s.ClearSign([]byte(release))
		require.NoError(t, err)

		block, _ := clearsign.Decode(out)
		require.NotNil(t, block)
		assert.Contains(t, string(block.Plaintext), "Components: main")

		_, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil)
		assert.NoError(t, err)
	})
	t.Run("detached", func(t *testing.T) {
		out, err := s.DetachSign([]byte(release))
		require.NoError(t, err)

		_, err = openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader([]byte(release)), bytes.NewReader(out), nil)
		assert.NoError(t, err)

		_, err = openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader([]byte(release+"tampered")), bytes.NewReader(out), nil)
		assert.Error(t, err)
	})
	t.Run("public key", func(t *testing.T) {
		out, err := s.PublicKey()
		require.NoError(t, err)

		pub, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(out))
		require.NoError(t, err)
		require.Len(t, pub, 1)
		assert.Nil(t, pub[0].PrivateKey)
		assert.EqualValues(t, entity.PrimaryKey.Fingerprint, pub[0].PrimaryKey.Fingerprint)
		assert.NotEmpty(t, s.Fingerprint())
	})
}

func TestSigner_NoKey(t *testing.T) {
	var s *Signer

	_, err := s.ClearSign([]byte(release))
	assert.ErrorIs(t, err, ErrNoKey)
	_, err = s.DetachSign([]byte(release))
	assert.ErrorIs(t, err, ErrNoKey)
	_, err = s.PublicKey()
	assert.ErrorIs(t, err, ErrNoKey)
	assert.Empty(t, s.Fingerprint())
}

func TestNewSigner_PublicOnly(t *testing.T) {
	_, key := generateKey(t)
	s, err := NewSigner(bytes.NewBufferString(key), nil)
	require.NoError(t, err)
	pub, err := s.PublicKey()
	require.NoError(t, err)

	_, err = NewSigner(bytes.NewReader(pub), nil)
	assert.Error(t, err)
}
