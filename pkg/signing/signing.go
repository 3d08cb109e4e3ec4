package signing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

var ErrNoKey = errors.New("no signing key configured")

// Signer signs repository metadata with a single
// OpenPGP key. A nil Signer reports ErrNoKey.
type Signer struct {
	entity *openpgp.Entity
}

// NewSigner reads an armored private key. Encrypted
// keys are unlocked with the passphrase.
func NewSigner(r io.Reader, passphrase []byte) (*Signer, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		return nil, fmt.Errorf("reading keyring: %w", err)
	}
	var entity *openpgp.Entity
	for _, e := range keyring {
		if e.PrivateKey != nil {
			entity = e
			break
		}
	}
	if entity == nil {
		return nil, errors.New("keyring does not contain a private key")
	}
	if entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return nil, fmt.Errorf("decrypting private key: %w", err)
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt(passphrase); err != nil {
				return nil, fmt.Errorf("decrypting private subkey: %w", err)
			}
		}
	}
	return &Signer{entity: entity}, nil
}

// LoadSigner reads an armored private key from disk.
func LoadSigner(path string, passphrase string) (*Signer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewSigner(f, []byte(passphrase))
}

// Fingerprint returns the upper-case hex fingerprint
// of the primary key.
func (s *Signer) Fingerprint() string {
	if s == nil {
		return ""
	}
	return strings.ToUpper(fmt.Sprintf("%x", s.entity.PrimaryKey.Fingerprint))
}

// ClearSign wraps text in a cleartext signature, as
// used for InRelease.
func (s *Signer) ClearSign(text []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrNoKey
	}
	var buf bytes.Buffer
	w, err := clearsign.Encode(&buf, s.entity.PrivateKey, nil)
	if err != nil {
		return nil, fmt.Errorf("starting clearsign: %w", err)
	}
	if _, err := w.Write(text); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finishing clearsign: %w", err)
	}
	return buf.Bytes(), nil
}

// DetachSign returns an armored detached signature of
// text, as used for Release.gpg.
func (s *Signer) DetachSign(text []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrNoKey
	}
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, s.entity, bytes.NewReader(text), nil); err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return buf.Bytes(), nil
}

// PublicKey returns the armored public key.
func (s *Signer) PublicKey() ([]byte, error) {
	if s == nil {
		return nil, ErrNoKey
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := s.entity.Serialize(w); err != nil {
		return nil, fmt.Errorf("serialising public key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
