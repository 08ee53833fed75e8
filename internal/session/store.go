package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/sealbox"
)

// Store persists at most one session. Load returns nil, nil when there is
// none.
type Store interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

type MemoryStore struct {
	mu   sync.Mutex
	sess *Session
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil, nil
	}
	cp := *m.sess
	return &cp, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sess = &cp
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
	return nil
}

// FileStore keeps the session in a JSON file readable only by its owner. A
// file that cannot be parsed is treated as no session.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

type sessionFile struct {
	Identity       domain.Identity `json:"identity"`
	Scope          string          `json:"scope"`
	PrivateKey     string          `json:"privateKey"`
	StartTimestamp int64           `json:"startTimestamp"`
	DurationDays   int             `json:"durationDays"`
	Signature      string          `json:"signature"`
}

func (f *FileStore) Load(context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		f.logger.Warn("session file corrupted, ignoring", "path", f.path, "error", err)
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(sf.PrivateKey)
	if err != nil || len(raw) != 32 {
		f.logger.Warn("session key corrupted, ignoring", "path", f.path)
		return nil, nil
	}
	var priv [32]byte
	copy(priv[:], raw)
	kp, err := sealbox.KeyPairFromPrivate(priv)
	if err != nil {
		return nil, nil
	}
	return &Session{
		Identity:       sf.Identity,
		Scope:          sf.Scope,
		Keys:           kp,
		StartTimestamp: sf.StartTimestamp,
		DurationDays:   sf.DurationDays,
		Signature:      sf.Signature,
	}, nil
}

func (f *FileStore) Save(_ context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(sessionFile{
		Identity:       s.Identity,
		Scope:          s.Scope,
		PrivateKey:     base64.StdEncoding.EncodeToString(s.Keys.Private[:]),
		StartTimestamp: s.StartTimestamp,
		DurationDays:   s.DurationDays,
		Signature:      s.Signature,
	}, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
