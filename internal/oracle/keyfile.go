package oracle

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sealedmsg/internal/sealbox"
)

type keyFile struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// LoadOrCreateKey reads the oracle key pair from path, creating a new one
// when the file does not exist.
func LoadOrCreateKey(path string) (sealbox.KeyPair, bool, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var kf keyFile
		if err := json.Unmarshal(data, &kf); err != nil {
			return sealbox.KeyPair{}, false, fmt.Errorf("parse key file %s: %w", path, err)
		}
		raw, err := base64.StdEncoding.DecodeString(kf.PrivateKey)
		if err != nil || len(raw) != 32 {
			return sealbox.KeyPair{}, false, fmt.Errorf("key file %s: %w", path, sealbox.ErrInvalidKey)
		}
		var priv [32]byte
		copy(priv[:], raw)
		kp, err := sealbox.KeyPairFromPrivate(priv)
		return kp, false, err
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return sealbox.KeyPair{}, false, err
	}

	kp, err := sealbox.GenerateKeyPair()
	if err != nil {
		return sealbox.KeyPair{}, false, err
	}
	out, err := json.MarshalIndent(keyFile{
		PrivateKey: base64.StdEncoding.EncodeToString(kp.Private[:]),
		PublicKey:  kp.Public.String(),
	}, "", "  ")
	if err != nil {
		return sealbox.KeyPair{}, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return sealbox.KeyPair{}, false, err
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return sealbox.KeyPair{}, false, err
	}
	return kp, true, nil
}
