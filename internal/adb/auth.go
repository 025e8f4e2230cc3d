package adb

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/user"
	"path/filepath"
)

const (
	keyBits     = 2048
	modulusSize = keyBits / 8
	tokenSize   = 20
)

// DefaultKeyPath is where the platform tools keep the host key.
func DefaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "adbkey"
	}
	return filepath.Join(home, ".android", "adbkey")
}

// KeyStore holds the RSA keys offered during AUTH, in order.
type KeyStore struct {
	keys []*rsa.PrivateKey
}

// NewKeyStore wraps already-loaded keys.
func NewKeyStore(keys ...*rsa.PrivateKey) *KeyStore {
	return &KeyStore{keys: keys}
}

// LoadKeyStore reads the PEM key at path, generating and saving a new one
// (plus path.pub) when the file does not exist.
func LoadKeyStore(path string) (*KeyStore, error) {
	if path == "" {
		path = DefaultKeyPath()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		key, err := rsa.GenerateKey(rand.Reader, keyBits)
		if err != nil {
			return nil, fmt.Errorf("generate adb key: %w", err)
		}
		if err := saveKey(path, key); err != nil {
			return nil, err
		}
		return NewKeyStore(key), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read adb key %s: %w", path, err)
	}
	key, err := parseKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse adb key %s: %w", path, err)
	}
	return NewKeyStore(key), nil
}

// Keys returns the keys in offer order.
func (k *KeyStore) Keys() []*rsa.PrivateKey {
	if k == nil {
		return nil
	}
	return k.keys
}

func parseKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, not RSA", parsed)
	}
	return key, nil
}

func saveKey(path string, key *rsa.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		return fmt.Errorf("write adb key: %w", err)
	}
	pub, err := EncodePublicKey(&key.PublicKey, keyComment())
	if err != nil {
		return err
	}
	return os.WriteFile(path+".pub", []byte(pub+"\n"), 0o644)
}

func keyComment() string {
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return name + "@" + host
}

// SignToken signs a 20-byte AUTH token. The token is used directly as the
// SHA-1 digest, which is what adbd verifies.
func SignToken(key *rsa.PrivateKey, token []byte) ([]byte, error) {
	if len(token) != tokenSize {
		return nil, fmt.Errorf("adb: auth token is %d bytes, want %d", len(token), tokenSize)
	}
	return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, token)
}

// EncodePublicKey renders pub in Android's RSAPublicKey layout, base64
// encoded and followed by the comment.
func EncodePublicKey(pub *rsa.PublicKey, comment string) (string, error) {
	if pub.N.BitLen() != keyBits {
		return "", fmt.Errorf("adb: public key is %d bits, want %d", pub.N.BitLen(), keyBits)
	}
	r32 := new(big.Int).Lsh(big.NewInt(1), 32)
	n0 := new(big.Int).Mod(pub.N, r32)
	n0inv := new(big.Int).ModInverse(n0, r32)
	if n0inv == nil {
		return "", errors.New("adb: modulus is not invertible mod 2^32")
	}
	n0inv.Sub(r32, n0inv)

	rr := new(big.Int).Lsh(big.NewInt(1), keyBits*2)
	rr.Mod(rr, pub.N)

	buf := make([]byte, 4+4+modulusSize+modulusSize+4)
	binary.LittleEndian.PutUint32(buf[0:], modulusSize/4)
	binary.LittleEndian.PutUint32(buf[4:], uint32(n0inv.Uint64()))
	putLittleEndian(buf[8:8+modulusSize], pub.N)
	putLittleEndian(buf[8+modulusSize:8+2*modulusSize], rr)
	binary.LittleEndian.PutUint32(buf[8+2*modulusSize:], uint32(pub.E))

	return base64.StdEncoding.EncodeToString(buf) + " " + comment, nil
}

func putLittleEndian(dst []byte, n *big.Int) {
	n.FillBytes(dst)
	for i, j := 0, len(dst)-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
}
