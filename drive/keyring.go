package drive

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/pkg/errors"

	"github.com/bobg/pit"
)

// Keyring holds the secret keys of the drives a peer can write.
type Keyring interface {
	// Save records the secret key for a drive.
	Save(pit.Key, ed25519.PrivateKey) error

	// Load retrieves the secret key for a drive.
	// It returns ErrNoSecretKey when the keyring does not hold it.
	Load(pit.Key) (ed25519.PrivateKey, error)
}

// ErrNoSecretKey is returned by Keyring.Load for unknown drives.
var ErrNoSecretKey = errors.New("no secret key")

// GenerateKey creates a new drive keypair.
func GenerateKey() (pit.Key, ed25519.PrivateKey, error) {
	pub, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return pit.Key{}, nil, errors.Wrap(err, "generating key")
	}
	key, err := pit.KeyFromBytes(pub)
	return key, sk, err
}

// DirKeyring keeps each secret key in its own file in a directory,
// readable only by the owner.
type DirKeyring struct {
	Dir string
}

var _ Keyring = DirKeyring{}

func (k DirKeyring) path(key pit.Key) string {
	return filepath.Join(k.Dir, key.String())
}

func (k DirKeyring) Save(key pit.Key, sk ed25519.PrivateKey) error {
	if err := os.MkdirAll(k.Dir, 0700); err != nil {
		return errors.Wrapf(err, "creating %s", k.Dir)
	}
	path := k.path(key)
	err := os.WriteFile(path, []byte(hex.EncodeToString(sk)+"\n"), 0600)
	return errors.Wrapf(err, "writing %s", path)
}

func (k DirKeyring) Load(key pit.Key) (ed25519.PrivateKey, error) {
	path := k.path(key)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNoSecretKey
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	sk, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	if len(sk) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("%s holds %d bytes, want %d", path, len(sk), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(sk), nil
}

// MemKeyring is a Keyring that lives only in memory.
type MemKeyring struct {
	mu sync.Mutex
	m  map[pit.Key]ed25519.PrivateKey
}

var _ Keyring = &MemKeyring{}

func (k *MemKeyring) Save(key pit.Key, sk ed25519.PrivateKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.m == nil {
		k.m = make(map[pit.Key]ed25519.PrivateKey)
	}
	k.m[key] = sk
	return nil
}

func (k *MemKeyring) Load(key pit.Key) (ed25519.PrivateKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if sk, ok := k.m[key]; ok {
		return sk, nil
	}
	return nil, ErrNoSecretKey
}
