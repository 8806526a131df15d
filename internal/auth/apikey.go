package auth

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
)

const (
	// KeyPrefix starts every API key.
	KeyPrefix = "rp_"
	// KeyLength is the prefix plus 32 hex characters.
	KeyLength = len(KeyPrefix) + 32

	// HeaderName carries the key; "Authorization: Bearer <key>" also works.
	HeaderName = "X-API-Key"
)

// KeyConfig configures the accepted keys.
type KeyConfig struct {
	// Key is a single operator key.
	Key string
	// KeysFile lists one key per line as "key[:role[:name]]"; # starts a comment.
	KeysFile string
}

type keyEntry struct {
	name string
	role Role
}

// APIKeys authenticates requests by API key. Only SHA256 hashes are kept.
type APIKeys struct {
	mu   sync.RWMutex
	keys map[string]keyEntry // hash -> entry
}

// NewAPIKeys loads keys from cfg. At least one key is required.
func NewAPIKeys(cfg KeyConfig) (*APIKeys, error) {
	a := &APIKeys{keys: make(map[string]keyEntry)}

	if cfg.Key != "" {
		if err := a.Add(cfg.Key, "config", RoleOperator); err != nil {
			return nil, fmt.Errorf("api key: %w", err)
		}
	}
	if cfg.KeysFile != "" {
		if err := a.loadFile(cfg.KeysFile); err != nil {
			return nil, fmt.Errorf("keys file %s: %w", cfg.KeysFile, err)
		}
	}

	if a.Len() == 0 {
		return nil, fmt.Errorf("no API keys configured")
	}
	return a, nil
}

// Add accepts key with the given name and role.
func (a *APIKeys) Add(key, name string, role Role) error {
	if !ValidKey(key) {
		return ErrInvalidKeyFormat
	}
	if role == RoleNone {
		role = RoleOperator
	}

	a.mu.Lock()
	a.keys[HashKey(key)] = keyEntry{name: name, role: role}
	a.mu.Unlock()
	return nil
}

// Len returns the number of accepted keys.
func (a *APIKeys) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.keys)
}

// Authenticate implements Authenticator.
func (a *APIKeys) Authenticate(r *http.Request) (*Identity, error) {
	key := r.Header.Get(HeaderName)
	if key == "" {
		if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			key = v
		}
	}
	if key == "" {
		return nil, nil
	}
	if !ValidKey(key) {
		return nil, ErrInvalidKeyFormat
	}

	hash := HashKey(key)
	a.mu.RLock()
	entry, ok := a.keys[hash]
	a.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return &Identity{ID: hash[:16], Name: entry.name, Role: entry.role}, nil
}

func (a *APIKeys) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		parts := strings.SplitN(text, ":", 3)
		role := RoleOperator
		name := fmt.Sprintf("%s:%d", path, line)
		if len(parts) >= 2 && parts[1] != "" {
			r, err := ParseRole(parts[1])
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			role = r
		}
		if len(parts) == 3 && parts[2] != "" {
			name = parts[2]
		}

		if err := a.Add(parts[0], name, role); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

// ValidKey reports whether key is KeyPrefix followed by 32 hex characters.
func ValidKey(key string) bool {
	if len(key) != KeyLength || !strings.HasPrefix(key, KeyPrefix) {
		return false
	}
	_, err := hex.DecodeString(key[len(KeyPrefix):])
	return err == nil
}

// HashKey returns the hex SHA256 of key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// GenerateKey returns a new random API key.
func GenerateKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}
