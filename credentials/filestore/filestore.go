// Package filestore keeps the credential record in a single encrypted file.
//
// The file layout is: magic (4 bytes) | argon2id salt (16 bytes) |
// XChaCha20-Poly1305 nonce (24 bytes) | sealed JSON object. Each write replaces
// the file through a temp file and rename, so a crash never leaves a torn record.
package filestore

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/theDeemoonn/foodMobile/credentials"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrDecrypt is returned when the file cannot be opened with the passphrase.
	ErrDecrypt = errors.New("credentials file: decryption failed")
	// ErrCorrupt is returned when the file is not a credentials file.
	ErrCorrupt = errors.New("credentials file: corrupt")
)

var magic = []byte("FMC1")

const saltLen = 16

// KDFParams are the argon2id cost parameters.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams follow the argon2 RFC's second recommended option.
var DefaultKDFParams = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

var _ credentials.Store = (*FileStore)(nil)

type FileStore struct {
	path       string
	passphrase []byte
	kdf        KDFParams

	lock sync.Mutex
	salt []byte
	key  []byte
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithKDFParams overrides the argon2id cost (tests use a cheap setting).
func WithKDFParams(p KDFParams) Option {
	return func(f *FileStore) {
		f.kdf = p
	}
}

// New returns a store backed by path. The passphrase must not be empty.
func New(path, passphrase string, options ...Option) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("[filestore.New] path is required")
	}
	if passphrase == "" {
		return nil, errors.New("[filestore.New] passphrase is required")
	}
	f := &FileStore{
		path:       path,
		passphrase: []byte(passphrase),
		kdf:        DefaultKDFParams,
	}
	for _, opt := range options {
		opt(f)
	}
	return f, nil
}

func (f *FileStore) Set(ctx context.Context, key credentials.Key, value string) error {
	if err := credentials.CheckKey(key); err != nil {
		return err
	}
	return f.update(ctx, func(values map[credentials.Key]string) bool {
		if values[key] == value {
			return false
		}
		values[key] = value
		return true
	})
}

func (f *FileStore) Get(ctx context.Context, key credentials.Key) (string, bool, error) {
	if err := credentials.CheckKey(key); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileStore) Remove(ctx context.Context, key credentials.Key) error {
	if err := credentials.CheckKey(key); err != nil {
		return err
	}
	return f.update(ctx, func(values map[credentials.Key]string) bool {
		if _, ok := values[key]; !ok {
			return false
		}
		delete(values, key)
		return true
	})
}

func (f *FileStore) update(ctx context.Context, mutate func(map[credentials.Key]string) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	if !mutate(values) {
		return nil
	}
	return f.write(values)
}

// read returns the decrypted record; a missing file is an empty record.
func (f *FileStore) read() (map[credentials.Key]string, error) {
	values := make(map[credentials.Key]string)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[filestore.read] %w", err)
	}

	if len(data) < len(magic)+saltLen+chacha20poly1305.NonceSizeX || !bytes.Equal(data[:len(magic)], magic) {
		return nil, ErrCorrupt
	}
	data = data[len(magic):]
	salt, data := data[:saltLen], data[saltLen:]
	nonce, sealed := data[:chacha20poly1305.NonceSizeX], data[chacha20poly1305.NonceSizeX:]

	aead, err := f.aead(salt)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, sealed, magic)
	if err != nil {
		return nil, ErrDecrypt
	}
	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return values, nil
}

func (f *FileStore) write(values map[credentials.Key]string) error {
	if len(values) == 0 {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("[filestore.write] remove: %w", err)
		}
		return nil
	}

	if f.salt == nil {
		salt := make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("[filestore.write] salt: %w", err)
		}
		f.salt = salt
		f.key = nil
	}
	aead, err := f.aead(f.salt)
	if err != nil {
		return err
	}

	plain, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("[filestore.write] marshal: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("[filestore.write] nonce: %w", err)
	}

	buf := make([]byte, 0, len(magic)+saltLen+len(nonce)+len(plain)+aead.Overhead())
	buf = append(buf, magic...)
	buf = append(buf, f.salt...)
	buf = append(buf, nonce...)
	buf = aead.Seal(buf, nonce, plain, magic)

	return writeAtomic(f.path, buf)
}

// aead derives (and caches) the key for salt.
func (f *FileStore) aead(salt []byte) (cipher.AEAD, error) {
	if f.key == nil || !bytes.Equal(f.salt, salt) {
		f.salt = append([]byte(nil), salt...)
		f.key = argon2.IDKey(f.passphrase, f.salt, f.kdf.Time, f.kdf.Memory, f.kdf.Threads, chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return nil, fmt.Errorf("[filestore.aead] %w", err)
	}
	return aead, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("[filestore.writeAtomic] mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("[filestore.writeAtomic] create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("[filestore.writeAtomic] write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("[filestore.writeAtomic] sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[filestore.writeAtomic] close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("[filestore.writeAtomic] chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("[filestore.writeAtomic] rename: %w", err)
	}
	return nil
}
