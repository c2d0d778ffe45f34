package debutils

import (
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/omnivector-solutions/charm-apptainer/internal/utils/logger"
)

// Keyring is an ASCII-armored OpenPGP public key file referenced by a
// repository's signed-by option.
type Keyring struct {
	Path string
}

// NewKeyring returns the keyring stored at path.
func NewKeyring(path string) *Keyring {
	return &Keyring{Path: path}
}

// ParseArmoredKey checks that armored holds at least one OpenPGP public key
// and returns the upper-case hex fingerprint of the first one.
func ParseArmoredKey(armored string) (string, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return "", fmt.Errorf("invalid armored key: %w", err)
	}
	if len(entities) == 0 || entities[0].PrimaryKey == nil {
		return "", fmt.Errorf("invalid armored key: no public key found")
	}
	return fmt.Sprintf("%X", entities[0].PrimaryKey.Fingerprint), nil
}

// Install replaces the keyring file with armored and returns the key
// fingerprint. Nothing is written when the key does not parse.
func (k *Keyring) Install(armored string) (string, error) {
	log := logger.Logger()

	fingerprint, err := ParseArmoredKey(armored)
	if err != nil {
		return "", fmt.Errorf("installing keyring %s: %w", k.Path, err)
	}

	if err := os.Remove(k.Path); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("removing existing keyring %s: %w", k.Path, err)
	}
	if err := writeFileAtomic(k.Path, []byte(armored), 0644); err != nil {
		return "", fmt.Errorf("writing keyring %s: %w", k.Path, err)
	}

	log.Infof("Installed signing key %s to %s", fingerprint, k.Path)
	return fingerprint, nil
}

// Remove deletes the keyring file if present.
func (k *Keyring) Remove() error {
	if err := os.Remove(k.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing keyring %s: %w", k.Path, err)
	}
	logger.Logger().Debugf("Removed keyring %s", k.Path)
	return nil
}

// Exists reports whether the keyring file is present.
func (k *Keyring) Exists() bool {
	_, err := os.Stat(k.Path)
	return err == nil
}

// Fingerprint reads the keyring file and returns the fingerprint of its
// first key.
func (k *Keyring) Fingerprint() (string, error) {
	data, err := os.ReadFile(k.Path)
	if err != nil {
		return "", fmt.Errorf("reading keyring %s: %w", k.Path, err)
	}
	return ParseArmoredKey(string(data))
}
