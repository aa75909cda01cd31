// Package keys manages the RSA key pairs that sign chain blocks.
//
// A KeyManager holds its keys in their PEM encoding (PKCS#8 for the private
// key, SubjectPublicKeyInfo for the public key) and parses them on every
// Sign or Verify call. Values are immutable and safe to copy.
package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// KeyBits is the RSA modulus size used by Generate.
const KeyBits = 2048

const (
	privatePEMType = "PRIVATE KEY"
	publicPEMType  = "PUBLIC KEY"
)

var (
	// ErrDecodeKey is returned when a stored key cannot be decoded.
	ErrDecodeKey = errors.New("cannot decode key")
	// ErrBadSignature is returned when a signature does not match the data.
	ErrBadSignature = errors.New("signature does not verify")
	// ErrNoPrivateKey is returned when signing with a verify-only key manager.
	ErrNoPrivateKey = errors.New("no private key")
)

// Verifier checks a detached signature over data.
// KeyManager implements it; chain verification accepts any Verifier.
type Verifier interface {
	Verify(data, signature []byte) error
}

// Verifiers adapts key managers to the []Verifier that chain verification takes.
func Verifiers(kms ...KeyManager) []Verifier {
	vs := make([]Verifier, len(kms))
	for i, km := range kms {
		vs[i] = km
	}
	return vs
}

// KeyManager owns one RSA key pair in PEM form.
type KeyManager struct {
	privateKey []byte
	publicKey  []byte
}

// Generate creates a KeyManager with a fresh 2048-bit RSA key pair.
func Generate() (KeyManager, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return KeyManager{}, fmt.Errorf("generating key: %w", err)
	}
	return fromRSA(priv)
}

// FromPrivateKeyPath loads a PKCS#8 PEM private key from path and derives the public key.
func FromPrivateKeyPath(path string) (KeyManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyManager{}, fmt.Errorf("reading private key: %w", err)
	}
	return FromPrivateKey(data)
}

// FromPrivateKey decodes a PKCS#8 PEM private key and derives the public key.
// Both keys are re-encoded, so the stored private key is in canonical form.
func FromPrivateKey(privatePEM []byte) (KeyManager, error) {
	priv, err := parsePrivateKey(privatePEM)
	if err != nil {
		return KeyManager{}, err
	}
	return fromRSA(priv)
}

// FromPublicKeyPath loads a SubjectPublicKeyInfo PEM public key from path.
func FromPublicKeyPath(path string) (KeyManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyManager{}, fmt.Errorf("reading public key: %w", err)
	}
	return FromPublicKey(data)
}

// FromPublicKey returns a verify-only KeyManager. The PEM is checked but kept verbatim
// so that PublicKeyHash matches the fingerprint recorded by the signer.
func FromPublicKey(publicPEM []byte) (KeyManager, error) {
	if _, err := parsePublicKey(publicPEM); err != nil {
		return KeyManager{}, err
	}
	return KeyManager{publicKey: clone(publicPEM)}, nil
}

// FromPair builds a KeyManager from two PEM buffers without checking that they belong together.
// A mismatched pair produces signatures that its own Verify rejects.
func FromPair(privatePEM, publicPEM []byte) KeyManager {
	return KeyManager{
		privateKey: clone(privatePEM),
		publicKey:  clone(publicPEM),
	}
}

func fromRSA(priv *rsa.PrivateKey) (KeyManager, error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return KeyManager{}, fmt.Errorf("encoding private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyManager{}, fmt.Errorf("encoding public key: %w", err)
	}
	return KeyManager{
		privateKey: pem.EncodeToMemory(&pem.Block{Type: privatePEMType, Bytes: privDER}),
		publicKey:  pem.EncodeToMemory(&pem.Block{Type: publicPEMType, Bytes: pubDER}),
	}, nil
}

// PrivateKey returns a copy of the private key PEM. It is empty for verify-only managers.
func (k KeyManager) PrivateKey() []byte {
	return clone(k.privateKey)
}

// PublicKey returns a copy of the public key PEM.
func (k KeyManager) PublicKey() []byte {
	return clone(k.publicKey)
}

// HasPrivateKey reports whether the manager can sign.
func (k KeyManager) HasPrivateKey() bool {
	return len(k.privateKey) > 0
}

// Sign signs SHA-256(data) with RSA PKCS#1 v1.5.
func (k KeyManager) Sign(data []byte) ([]byte, error) {
	if !k.HasPrivateKey() {
		return nil, ErrNoPrivateKey
	}
	priv, err := parsePrivateKey(k.privateKey)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing data: %w", err)
	}
	return sig, nil
}

// Verify checks a PKCS#1 v1.5 signature over SHA-256(data).
// It returns ErrBadSignature on mismatch and ErrDecodeKey if the public key is unusable.
func (k KeyManager) Verify(data, signature []byte) error {
	pub, err := parsePublicKey(k.publicKey)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return nil
}

// PublicKeyHash returns the hex SHA-256 of the public key PEM text.
// It identifies the signer of a block.
func (k KeyManager) PublicKeyHash() string {
	return fingerprint(k.publicKey)
}

// PrivateKeyHash returns the hex SHA-256 of the private key PEM text.
func (k KeyManager) PrivateKeyHash() string {
	return fingerprint(k.privateKey)
}

// SSHFingerprint returns the public key's fingerprint in the "SHA256:..." form
// printed by ssh-keygen -l.
func (k KeyManager) SSHFingerprint() (string, error) {
	pub, err := parsePublicKey(k.publicKey)
	if err != nil {
		return "", err
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("converting public key: %w", err)
	}
	return ssh.FingerprintSHA256(sshPub), nil
}

// WritePrivateKey writes the private key PEM to path with owner-only permissions.
func (k KeyManager) WritePrivateKey(path string) error {
	if !k.HasPrivateKey() {
		return ErrNoPrivateKey
	}
	if err := os.WriteFile(path, k.privateKey, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// WritePublicKey writes the public key PEM to path.
func (k KeyManager) WritePublicKey(path string) error {
	if err := os.WriteFile(path, k.publicKey, 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != privatePEMType {
		return nil, fmt.Errorf("%w: expected %q PEM block", ErrDecodeKey, privatePEMType)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeKey, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key (%T)", ErrDecodeKey, key)
	}
	return priv, nil
}

func parsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != publicPEMType {
		return nil, fmt.Errorf("%w: expected %q PEM block", ErrDecodeKey, publicPEMType)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeKey, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key (%T)", ErrDecodeKey, key)
	}
	return pub, nil
}

func fingerprint(pemText []byte) string {
	sum := sha256.Sum256(pemText)
	return hex.EncodeToString(sum[:])
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
