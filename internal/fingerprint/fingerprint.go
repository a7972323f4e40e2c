// Package fingerprint derives a content fingerprint for a fixture set and
// its migrations. Two runs produce the same fingerprint exactly when the same
// units, sources, and migration files are in play with unchanged
// modification times.
package fingerprint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/allyourbase/seedcache/internal/fixtures"
)

// Fingerprint is a hex-encoded BLAKE2b-256 digest.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Short returns the first 12 characters, for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// Input is the canonical document that gets hashed.
type Input struct {
	Migrations []string `json:"migrations"`
	Units      []string `json:"units"`
}

// Compute fingerprints units and migrations. Migration descriptors keep the
// given order since execution order matters; unit descriptors are sorted so
// that resolution order does not.
func Compute(units []fixtures.Unit, migrations []string) (Fingerprint, error) {
	in, err := Describe(units, migrations)
	if err != nil {
		return "", err
	}
	return in.Sum()
}

// Describe builds the canonical input without hashing it.
func Describe(units []fixtures.Unit, migrations []string) (Input, error) {
	in := Input{
		Migrations: make([]string, 0, len(migrations)),
		Units:      make([]string, 0, len(units)),
	}

	for _, path := range migrations {
		mtime, err := modTime(path)
		if err != nil {
			return Input{}, fmt.Errorf("fingerprinting migration: %w", err)
		}
		in.Migrations = append(in.Migrations, path+"@"+mtime)
	}

	for _, u := range units {
		desc := u.Name() + ":"
		if src := fixtures.SourceOf(u); src != "" {
			mtime, err := modTime(src)
			if err != nil {
				return Input{}, fmt.Errorf("fingerprinting unit %q: %w", u.Name(), err)
			}
			desc += src + "@" + mtime
		}
		in.Units = append(in.Units, desc)
	}
	sort.Strings(in.Units)

	return in, nil
}

// Sum hashes the JSON encoding of in.
func (in Input) Sum() (Fingerprint, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encoding fingerprint input: %w", err)
	}
	sum := blake2b.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}

func modTime(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return strconv.FormatInt(info.ModTime().UnixNano(), 10), nil
}
