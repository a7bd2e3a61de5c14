// Package cache persists a parsed definition store to a single file, keyed
// on a fingerprint of the input headers and of the parser configuration.
// The cache is used only when both fingerprints match; otherwise callers
// reparse and rewrite it.
package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/raymyers/headerscan/pkg/cmodel"
)

// FormatVersion changes whenever the on-disk layout changes.
const FormatVersion = 1

// ParserVersion changes whenever parsing behavior changes in a way that
// invalidates old caches.
const ParserVersion = "headerscan-1"

// header is written before the store body.
type header struct {
	FormatVersion int
	ParserVersion string
	InputHash     string
	ConfigHash    string
}

// HashInputs fingerprints the input set: file names and contents, sorted by
// name so ordering on disk does not matter.
func HashInputs(sources map[string]string) string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s\x00%d\x00", name, len(sources[name]))
		h.Write([]byte(sources[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashConfig fingerprints the parser configuration via its YAML
// serialization.
func HashConfig(cfg any) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("serializing config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Write stores the definition store under the given fingerprints.
func Write(path string, store *cmodel.Store, inputHash, configHash string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	hdr := header{
		FormatVersion: FormatVersion,
		ParserVersion: ParserVersion,
		InputHash:     inputHash,
		ConfigHash:    configHash,
	}
	if err := enc.Encode(hdr); err != nil {
		return fmt.Errorf("writing cache header: %w", err)
	}
	if err := enc.Encode(store); err != nil {
		return fmt.Errorf("writing cache body: %w", err)
	}
	return nil
}

// ReadStore loads the store from a cache file without fingerprint checks.
// Used when a previously cached parse serves as the baseline for another
// parse rather than as a cache hit; a format version mismatch and corruption
// are errors here, not misses. The parser version is not checked.
func ReadStore(path string) (*cmodel.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening base store: %w", err)
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	var hdr header
	if err := dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("reading base store header: %w", err)
	}
	if hdr.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("base store format version %d not supported", hdr.FormatVersion)
	}

	store := cmodel.NewStore(nil)
	if err := dec.Decode(store); err != nil {
		return nil, fmt.Errorf("reading base store body: %w", err)
	}
	store.Finalize()
	return store, nil
}

// Load reads the cache if it exists and its fingerprints match. The second
// return value reports whether the cache was usable.
func Load(path, inputHash, configHash string) (*cmodel.Store, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("opening cache: %w", err)
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	var hdr header
	if err := dec.Decode(&hdr); err != nil {
		// A corrupt or foreign file is a miss, not a failure
		return nil, false, nil
	}
	if hdr.FormatVersion != FormatVersion || hdr.ParserVersion != ParserVersion {
		return nil, false, nil
	}
	if hdr.InputHash != inputHash || hdr.ConfigHash != configHash {
		return nil, false, nil
	}

	store := cmodel.NewStore(nil)
	if err := dec.Decode(store); err != nil {
		return nil, false, nil
	}
	store.Finalize()
	return store, true, nil
}
