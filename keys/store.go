package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore keeps Ed25519 seeds on the local filesystem:
//
//	<dir>/<name>/root.key
//	<dir>/<name>/roles/<role>.key
//
// Seeds are stored hex-encoded with mode 0600.
type KeyStore struct {
	Dir string
}

// Entry lists one named key and its derived roles.
type Entry struct {
	Name  string
	Roles []string
}

// DefaultDir returns ~/.auria/keys.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".auria", "keys"), nil
}

// OpenKeyStore returns a KeyStore rooted at dir, or at DefaultDir when dir
// is empty. The directory is created lazily on first write.
func OpenKeyStore(dir string) (*KeyStore, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	return &KeyStore{Dir: dir}, nil
}

func (ks *KeyStore) rootPath(name string) string {
	return filepath.Join(ks.Dir, name, "root.key")
}

func (ks *KeyStore) rolePath(name, role string) string {
	return filepath.Join(ks.Dir, name, "roles", role+".key")
}

func checkToken(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in %s", c, kind)
	}
	return nil
}

func CheckKeyName(name string) error { return checkToken("key name", name) }
func CheckRole(role string) error    { return checkToken("role", role) }

// ParseSeedHex decodes a 32-byte seed, tolerating whitespace and a 0x prefix.
func ParseSeedHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}

func writeSeed(path string, seed []byte, overwrite bool) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", ed25519.SeedSize)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readSeed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(string(data))
}

// InitRoot stores seed as the root key for name and returns its public key.
func (ks *KeyStore) InitRoot(name string, seed []byte, overwrite bool) (pub, path string, err error) {
	if err := CheckKeyName(name); err != nil {
		return "", "", err
	}
	path = ks.rootPath(name)
	if err := writeSeed(path, seed, overwrite); err != nil {
		return "", "", err
	}
	return PublicKeyFromSeed(seed), path, nil
}

// DeriveRole derives and stores the role key for name.
func (ks *KeyStore) DeriveRole(name, role string, overwrite bool) (pub, path string, err error) {
	if err := CheckKeyName(name); err != nil {
		return "", "", err
	}
	root, err := readSeed(ks.rootPath(name))
	if err != nil {
		return "", "", err
	}
	seed, err := DeriveRoleSeed(root, role)
	if err != nil {
		return "", "", err
	}
	path = ks.rolePath(name, role)
	if err := writeSeed(path, seed, overwrite); err != nil {
		return "", "", err
	}
	return PublicKeyFromSeed(seed), path, nil
}

// Seed loads the root seed for name, or the role seed when role is set.
func (ks *KeyStore) Seed(name, role string) ([]byte, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, err
	}
	if role == "" {
		return readSeed(ks.rootPath(name))
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}
	return readSeed(ks.rolePath(name, role))
}

// PublicKey returns the public key string for name (and optional role).
func (ks *KeyStore) PublicKey(name, role string) (string, error) {
	seed, err := ks.Seed(name, role)
	if err != nil {
		return "", err
	}
	return PublicKeyFromSeed(seed), nil
}

// Source selects a signing seed. The first non-empty field wins, in order
// SeedHex, File, Name (with optional Role).
type Source struct {
	SeedHex string
	File    string
	Name    string
	Role    string
}

func (ks *KeyStore) Load(src Source) ([]byte, error) {
	switch {
	case src.SeedHex != "":
		return ParseSeedHex(src.SeedHex)
	case src.File != "":
		return readSeed(src.File)
	case src.Name != "":
		return ks.Seed(src.Name, src.Role)
	default:
		return nil, errors.New("no signer provided")
	}
}

// List returns stored keys sorted by name, each with its sorted roles.
func (ks *KeyStore) List() ([]Entry, error) {
	dirs, err := os.ReadDir(ks.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		e := Entry{Name: d.Name()}
		roleFiles, rerr := os.ReadDir(filepath.Join(ks.Dir, d.Name(), "roles"))
		if rerr == nil {
			for _, rf := range roleFiles {
				if !rf.IsDir() && strings.HasSuffix(rf.Name(), ".key") {
					e.Roles = append(e.Roles, strings.TrimSuffix(rf.Name(), ".key"))
				}
			}
			sort.Strings(e.Roles)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
