package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/majorcontext/sigchain/internal/chain"
	"github.com/majorcontext/sigchain/internal/keys"
	"github.com/majorcontext/sigchain/internal/log"
)

// openStore opens the configured block store, creating its directory.
func (g *globals) openStore() (*chain.Store, error) {
	if err := os.MkdirAll(filepath.Dir(g.cfg.Database), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	store, err := chain.OpenStore(g.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", g.cfg.Database, err)
	}
	log.SetStore(g.cfg.Database)
	return store, nil
}

// loadSigner resolves the signing key. Flags win over config; a PEM path
// wins over a keystore name.
func (g *globals) loadSigner(keyPath, keyringName string) (keys.KeyManager, error) {
	if keyPath == "" && keyringName == "" {
		keyPath = g.cfg.Signer.KeyPath
		keyringName = g.cfg.Signer.KeyringName
	}
	switch {
	case keyPath != "":
		km, err := keys.FromPrivateKeyPath(keyPath)
		if err != nil {
			return keys.KeyManager{}, fmt.Errorf("loading signer key %s: %w", keyPath, err)
		}
		return km, nil
	case keyringName != "":
		return keys.NewKeystore(g.cfg.KeysDir()).Load(keyringName)
	default:
		return keys.KeyManager{}, fmt.Errorf("no signer key configured: pass --key or --keyring-name, or set signer.key_path in %s",
			filepath.Join(g.cfg.Dir(), "config.yaml"))
	}
}

// loadTrusted reads public keys from paths, falling back to the configured
// trust set when paths is empty.
func (g *globals) loadTrusted(paths []string) ([]keys.KeyManager, error) {
	if len(paths) == 0 {
		paths = g.cfg.TrustedKeys
	}
	trusted := make([]keys.KeyManager, 0, len(paths))
	for _, p := range paths {
		km, err := keys.FromPublicKeyPath(p)
		if err != nil {
			return nil, fmt.Errorf("loading trusted key %s: %w", p, err)
		}
		trusted = append(trusted, km)
	}
	return trusted, nil
}

// shortHash truncates a hex digest for display.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "-"
	}
	return h
}
