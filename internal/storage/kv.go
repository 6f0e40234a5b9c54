package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lattice-db/lattice/internal/types"
)

// kvRecord is the on-disk, JSON-friendly shape of one KV entry; types.Value
// doesn't marshal directly since its zero value is ambiguous with NULL.
type kvRecord struct {
	Key           string  `json:"key"`
	Kind          int     `json:"kind"`
	Null          bool    `json:"null"`
	I             int64   `json:"i,omitempty"`
	F             float64 `json:"f,omitempty"`
	S             string  `json:"s,omitempty"`
	B             bool    `json:"b,omitempty"`
	ExpiresAtMs   *int64  `json:"expires_at_ms,omitempty"`
	TTLMs         *int64  `json:"ttl_ms,omitempty"`
	ResetOnAccess bool    `json:"reset_on_access,omitempty"`
}

func recordFromValue(key string, v types.Value, ttlMs *int64, resetOnAccess bool, nowMs int64) kvRecord {
	r := kvRecord{Key: key, Kind: int(v.Kind), Null: v.Null, I: v.I, F: v.F, S: v.S, B: v.B, TTLMs: ttlMs, ResetOnAccess: resetOnAccess}
	if ttlMs != nil {
		exp := nowMs + *ttlMs
		r.ExpiresAtMs = &exp
	}
	return r
}

func (r kvRecord) value() types.Value {
	return types.Value{Kind: types.Kind(r.Kind), Null: r.Null, I: r.I, F: r.F, S: r.S, B: r.B}
}

// Namespace is one KV keyspace ("<db>.store.<name>"), persisted as
// newline-delimited JSON and held in an in-memory map; prefix scans
// (LIST KEYS) walk the whole map and sort the matching keys.
type Namespace struct {
	path string
	mu   sync.Mutex
	data map[string]kvRecord
}

func OpenNamespace(path string) (*Namespace, error) {
	ns := &Namespace{path: path, data: map[string]kvRecord{}}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return ns, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: opening namespace %s: %w", path, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec kvRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("storage: parsing namespace %s: %w", path, err)
		}
		ns.data[rec.Key] = rec
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("storage: reading namespace %s: %w", path, err)
	}
	return ns, nil
}

// persist rewrites the whole namespace file; called with mu held.
func (ns *Namespace) persist() error {
	tmp := ns.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(ns.path), 0o755); err != nil {
		return fmt.Errorf("storage: creating namespace dir: %w", err)
	}
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("storage: creating %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	keys := make([]string, 0, len(ns.data))
	for k := range ns.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	enc := json.NewEncoder(w)
	for _, k := range keys {
		if err := enc.Encode(ns.data[k]); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("storage: encoding namespace entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, ns.path)
}

// Write stores key=val with an optional TTL (relative to nowMs) and
// reset-on-access flag, then persists.
func (ns *Namespace) Write(key string, val types.Value, ttlMs *int64, resetOnAccess bool, nowMs int64) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.data[key] = recordFromValue(key, val, ttlMs, resetOnAccess, nowMs)
	return ns.persist()
}

// Read returns (value, true) if key exists and has not expired as of
// nowMs. A reset-on-access entry with a TTL has its expiry pushed forward
// by its original TTL span and the namespace is persisted again.
func (ns *Namespace) Read(key string, nowMs int64) (types.Value, bool, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	rec, ok := ns.data[key]
	if !ok {
		return types.Value{}, false, nil
	}
	if rec.ExpiresAtMs != nil && nowMs >= *rec.ExpiresAtMs {
		delete(ns.data, key)
		return types.Value{}, false, ns.persist()
	}
	if rec.ResetOnAccess && rec.TTLMs != nil {
		newExpiry := nowMs + *rec.TTLMs
		rec.ExpiresAtMs = &newExpiry
		ns.data[key] = rec
		if err := ns.persist(); err != nil {
			return types.Value{}, false, err
		}
	}
	return rec.value(), true, nil
}

func (ns *Namespace) Drop(key string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if _, ok := ns.data[key]; !ok {
		return fmt.Errorf("storage: key %q not found", key)
	}
	delete(ns.data, key)
	return ns.persist()
}

func (ns *Namespace) Rename(oldKey, newKey string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	rec, ok := ns.data[oldKey]
	if !ok {
		return fmt.Errorf("storage: key %q not found", oldKey)
	}
	rec.Key = newKey
	delete(ns.data, oldKey)
	ns.data[newKey] = rec
	return ns.persist()
}

// ListKeys returns keys with the given prefix, sorted, excluding entries
// already expired as of nowMs (without mutating reset-on-access expiry —
// listing is not an "access").
func (ns *Namespace) ListKeys(prefix string, nowMs int64) []string {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	var out []string
	for k, rec := range ns.data {
		if rec.ExpiresAtMs != nil && nowMs >= *rec.ExpiresAtMs {
			continue
		}
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
