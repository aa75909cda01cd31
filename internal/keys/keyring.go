package keys

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/zalando/go-keyring"
)

// ServiceName is the default keyring service identifier.
// SIGCHAIN_KEYRING_SERVICE overrides it, which keeps tests away from real entries.
const ServiceName = "sigchain"

var (
	// ErrKeyNotFound is returned when no backend holds a key under the requested name.
	ErrKeyNotFound = errors.New("signer key not found")
	// ErrKeyExists is returned when saving under a name that is already taken.
	ErrKeyExists = errors.New("signer key already exists")
	// ErrInsecurePermissions is returned when a key file is readable by group or others.
	ErrInsecurePermissions = errors.New("key file has insecure permissions")
	// ErrInvalidKeyName is returned for names that are unsafe as file names.
	ErrInvalidKeyName = errors.New("invalid key name")
)

var keyNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateKeyName rejects names that are unsafe as keychain entries or file names.
func ValidateKeyName(name string) error {
	if !keyNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidKeyName, name)
	}
	return nil
}

func getServiceName() string {
	if name := os.Getenv("SIGCHAIN_KEYRING_SERVICE"); name != "" {
		return name
	}
	return ServiceName
}

// Backend stores private key PEM by name.
type Backend interface {
	Get(name string) ([]byte, error)
	Set(name string, privatePEM []byte) error
	Delete(name string) error
	Name() string
}

// keychainBackend stores keys in the system keychain.
type keychainBackend struct{}

func (k *keychainBackend) Get(name string) ([]byte, error) {
	secret, err := keyring.Get(getServiceName(), name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keychain get: %w", ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	return []byte(secret), nil
}

func (k *keychainBackend) Set(name string, privatePEM []byte) error {
	if err := keyring.Set(getServiceName(), name, string(privatePEM)); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

func (k *keychainBackend) Delete(name string) error {
	if err := keyring.Delete(getServiceName(), name); err != nil {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

func (k *keychainBackend) Name() string {
	return "system keychain"
}

// fileBackend stores keys as <dir>/<name>.pem with mode 0600.
type fileBackend struct {
	dir string
}

func (f *fileBackend) path(name string) string {
	return filepath.Join(f.dir, name+".pem")
}

func (f *fileBackend) Get(name string) ([]byte, error) {
	path := f.path(name)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("reading key file: %w", ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	// A readable key may already have been copied; refuse it rather than sign with it.
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return nil, fmt.Errorf("%w: %s has permissions %04o (expected 0600)", ErrInsecurePermissions, path, perm)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return data, nil
}

func (f *fileBackend) Set(name string, privatePEM []byte) error {
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	path := f.path(name)
	lockPath := path + ".lock"
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("creating lock file: %w", err)
	}
	defer lf.Close()
	defer os.Remove(lockPath)

	unlock, err := lockFile(lf)
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	defer unlock()

	// O_EXCL so a key written by another process while we waited is never clobbered.
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if os.IsExist(err) {
		return ErrKeyExists
	}
	if err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	if _, err := out.Write(privatePEM); err != nil {
		out.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	return out.Close()
}

func (f *fileBackend) Delete(name string) error {
	if err := os.Remove(f.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting key file: %w", err)
	}
	return nil
}

func (f *fileBackend) Name() string {
	return "file (" + f.dir + ")"
}

// Keystore keeps named signer keys in the system keychain, falling back to
// files under a directory when no keychain is available (CI, containers).
type Keystore struct {
	primary  Backend
	fallback Backend
}

// NewKeystore returns a Keystore whose file fallback lives in dir.
func NewKeystore(dir string) *Keystore {
	return &Keystore{
		primary:  &keychainBackend{},
		fallback: &fileBackend{dir: dir},
	}
}

// Save stores km's private key under name. Existing keys are never overwritten.
func (s *Keystore) Save(name string, km KeyManager) error {
	if err := ValidateKeyName(name); err != nil {
		return err
	}
	if !km.HasPrivateKey() {
		return ErrNoPrivateKey
	}
	if _, err := s.get(name); err == nil {
		return fmt.Errorf("%w: %s", ErrKeyExists, name)
	}

	primaryErr := s.primary.Set(name, km.privateKey)
	if primaryErr == nil {
		slog.Debug("stored signer key", "name", name, "backend", s.primary.Name())
		return nil
	}

	slog.Info("system keychain unavailable, using file-based key storage",
		"fallback", s.fallback.Name())
	if err := s.fallback.Set(name, km.privateKey); err != nil {
		if errors.Is(err, ErrKeyExists) {
			return fmt.Errorf("%w: %s", ErrKeyExists, name)
		}
		return fmt.Errorf("storing signer key failed.\n"+
			"  Keychain (%s): %v\n"+
			"  File (%s): %v",
			s.primary.Name(), primaryErr, s.fallback.Name(), err)
	}
	return nil
}

// Load returns the KeyManager stored under name.
func (s *Keystore) Load(name string) (KeyManager, error) {
	if err := ValidateKeyName(name); err != nil {
		return KeyManager{}, err
	}
	data, err := s.get(name)
	if err != nil {
		return KeyManager{}, err
	}
	km, err := FromPrivateKey(data)
	if err != nil {
		return KeyManager{}, fmt.Errorf("loading signer key %s: %w", name, err)
	}
	return km, nil
}

func (s *Keystore) get(name string) ([]byte, error) {
	if data, err := s.primary.Get(name); err == nil {
		return data, nil
	}
	data, err := s.fallback.Get(name)
	if err == nil {
		return data, nil
	}
	// Permission problems must surface, not read as "missing".
	if errors.Is(err, ErrInsecurePermissions) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
}

// Delete removes name from both backends. It fails only if both deletions fail.
func (s *Keystore) Delete(name string) error {
	if err := ValidateKeyName(name); err != nil {
		return err
	}
	primaryErr := s.primary.Delete(name)
	fallbackErr := s.fallback.Delete(name)
	if primaryErr != nil && fallbackErr == nil {
		slog.Debug("keychain delete failed (file delete succeeded)", "error", primaryErr)
	}
	if primaryErr != nil && fallbackErr != nil {
		return fmt.Errorf("deleting key from all backends: %w",
			errors.Join(
				fmt.Errorf("keychain: %w", primaryErr),
				fmt.Errorf("file: %w", fallbackErr),
			))
	}
	return nil
}
