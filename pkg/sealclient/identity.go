package sealclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sealedmsg/internal/jwtsigner"
)

// ErrNoIdentity is returned by LoadIdentity when no identity file exists.
var ErrNoIdentity = errors.New("no identity; run `sealctl identity init`")

type identityFile struct {
	Identity   string `json:"identity"`
	PrivateKey string `json:"privateKey"`
}

// LoadIdentity reads the signing identity stored at path.
func LoadIdentity(path string) (*jwtsigner.Signer, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoIdentity
	}
	if err != nil {
		return nil, err
	}
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	s, err := jwtsigner.NewFromBase64(f.PrivateKey, "")
	if err != nil {
		return nil, fmt.Errorf("identity file %s: %w", path, err)
	}
	if f.Identity != "" && f.Identity != s.Identity().String() {
		return nil, fmt.Errorf("identity file %s: key does not match recorded identity", path)
	}
	return s, nil
}

// SaveIdentity writes s to path, readable only by the owner. An existing
// file is never overwritten unless force is set.
func SaveIdentity(path string, s *jwtsigner.Signer, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("identity already exists at %s", path)
		}
	}
	data, err := json.MarshalIndent(identityFile{
		Identity:   s.Identity().String(),
		PrivateKey: s.PrivateBase64(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
