package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	privateKeyFile = "signing.key"
	publicKeyFile  = "signing.pub"
	stateFile      = "keystate.json"

	// maxRetired bounds the retired-key set; the oldest entry is dropped
	// when rotation would exceed it.
	maxRetired = 5
)

// fileState is the on-disk metadata beside the PEM files.
type fileState struct {
	Generation int             `json:"generation"`
	Retired    []retiredRecord `json:"retired,omitempty"`
}

type retiredRecord struct {
	KeyRef    string    `json:"keyRef"`
	PublicKey string    `json:"publicKey"` // base64 raw key bytes
	RetiredAt time.Time `json:"retiredAt"`
}

// FileManager is a file-backed key manager. The private key is stored as
// PKCS#8 PEM with 0600 permissions; the public half as SPKI PEM. Writes are
// atomic (temp file + rename). Rotation demotes the current public key into
// a bounded retired set.
type FileManager struct {
	mu      sync.RWMutex
	dir     string
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	state   fileState
	retired []RetiredKey
}

// NewFileManager opens the manager rooted at dir, loading an existing
// keypair when one is present. Call Generate to mint the first key.
func NewFileManager(dir string) (*FileManager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keys: create dir: %w", err)
	}
	m := &FileManager{dir: dir}
	if err := m.load(); err != nil && !errors.Is(err, ErrNoKey) {
		return nil, err
	}
	return m, nil
}

// Generate produces a fresh keypair and persists it atomically. It refuses
// to overwrite an existing key; use Rotate for that.
func (m *FileManager) Generate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.priv != nil {
		return errors.New("keys: keypair already exists; use Rotate")
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("keys: generate: %w", err)
	}
	m.priv, m.pub = priv, pub
	m.state.Generation = 1
	return m.persist()
}

// Loaded reports whether a current keypair is available.
func (m *FileManager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.priv != nil
}

// Sign signs data with the current key. The context is accepted for
// interface parity; file-backed signing never blocks on I/O.
func (m *FileManager) Sign(_ context.Context, data []byte) ([]byte, error) {
	return m.SignSync(data)
}

// SignSync signs data synchronously with the local private key.
func (m *FileManager) SignSync(data []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.priv == nil {
		return nil, ErrNoKey
	}
	return ed25519.Sign(m.priv, data), nil
}

// Public returns the current public key, or nil before Generate.
func (m *FileManager) Public() ed25519.PublicKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pub
}

// PrivateKey returns the current private key. No other package in this
// module calls it; credential and receipt signing go through Sign.
func (m *FileManager) PrivateKey() (ed25519.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.priv == nil {
		return nil, ErrNoKey
	}
	return m.priv, nil
}

// KeyRef returns "key-<generation>" for the current key.
func (m *FileManager) KeyRef() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("key-%d", m.state.Generation)
}

// Attestation reports file-backed custody.
func (m *FileManager) Attestation() KeyAttestationInfo {
	return KeyAttestationInfo{Type: "software", Provider: "file", NonExportable: false}
}

// Retired returns the verify-only retired keys, most recent last.
func (m *FileManager) Retired() []RetiredKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RetiredKey, len(m.retired))
	copy(out, m.retired)
	return out
}

// Rotate atomically swaps in a fresh keypair. The previous public key is
// appended to the retired set with its retirement time; the previous
// private key is discarded.
func (m *FileManager) Rotate() (newPublic, retiredPublic ed25519.PublicKey, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.priv == nil {
		return nil, nil, ErrNoKey
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: rotate: %w", err)
	}

	old := m.pub
	m.retired = append(m.retired, RetiredKey{
		PublicKey: old,
		KeyRef:    fmt.Sprintf("key-%d", m.state.Generation),
		RetiredAt: time.Now().UTC(),
	})
	if len(m.retired) > maxRetired {
		m.retired = m.retired[len(m.retired)-maxRetired:]
	}

	m.priv, m.pub = priv, pub
	m.state.Generation++

	if err := m.persist(); err != nil {
		return nil, nil, err
	}
	return pub, old, nil
}

func (m *FileManager) load() error {
	privPEM, err := os.ReadFile(filepath.Join(m.dir, privateKeyFile))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoKey
	}
	if err != nil {
		return fmt.Errorf("keys: read private key: %w", err)
	}

	block, _ := pem.Decode(privPEM)
	if block == nil || block.Type != "PRIVATE KEY" {
		return errors.New("keys: malformed private key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("keys: parse private key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return errors.New("keys: private key is not Ed25519")
	}
	m.priv = priv
	m.pub = priv.Public().(ed25519.PublicKey)

	stateRaw, err := os.ReadFile(filepath.Join(m.dir, stateFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("keys: read state: %w", err)
	}
	if len(stateRaw) > 0 {
		if err := json.Unmarshal(stateRaw, &m.state); err != nil {
			return fmt.Errorf("keys: parse state: %w", err)
		}
	}
	if m.state.Generation == 0 {
		m.state.Generation = 1
	}

	m.retired = m.retired[:0]
	for _, r := range m.state.Retired {
		raw, err := base64.StdEncoding.DecodeString(r.PublicKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return fmt.Errorf("keys: corrupt retired key %s", r.KeyRef)
		}
		m.retired = append(m.retired, RetiredKey{
			PublicKey: ed25519.PublicKey(raw),
			KeyRef:    r.KeyRef,
			RetiredAt: r.RetiredAt,
		})
	}
	return nil
}

// persist writes private PEM, public PEM, and state. Caller holds the lock.
func (m *FileManager) persist() error {
	pkcs8, err := x509.MarshalPKCS8PrivateKey(m.priv)
	if err != nil {
		return fmt.Errorf("keys: marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})

	spki, err := x509.MarshalPKIXPublicKey(m.pub)
	if err != nil {
		return fmt.Errorf("keys: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki})

	m.state.Retired = m.state.Retired[:0]
	for _, r := range m.retired {
		m.state.Retired = append(m.state.Retired, retiredRecord{
			KeyRef:    r.KeyRef,
			PublicKey: base64.StdEncoding.EncodeToString(r.PublicKey),
			RetiredAt: r.RetiredAt,
		})
	}
	stateRaw, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("keys: marshal state: %w", err)
	}

	if err := writeAtomic(filepath.Join(m.dir, privateKeyFile), privPEM, 0o600); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(m.dir, publicKeyFile), pubPEM, 0o644); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(m.dir, stateFile), stateRaw, 0o600)
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("keys: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("keys: rename %s: %w", path, err)
	}
	return nil
}

// PublicKeyPEM returns the current public key as SPKI PEM.
func (m *FileManager) PublicKeyPEM() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pub == nil {
		return nil, ErrNoKey
	}
	spki, err := x509.MarshalPKIXPublicKey(m.pub)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki}), nil
}

// ParsePublicKeyPEM decodes an SPKI PEM into an Ed25519 public key.
func ParsePublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("keys: malformed public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("keys: public key is not Ed25519")
	}
	return pub, nil
}
