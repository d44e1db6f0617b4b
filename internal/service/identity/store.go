// Package identity keeps a flat store of named voiceprint vectors and
// matches query vectors against it by cosine similarity.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
)

// Errors reported by the store.
var (
	ErrEmptyVector       = errors.New("identity: empty vector")
	ErrDimensionMismatch = errors.New("identity: vector dimension mismatch")
	ErrNoMatch           = errors.New("identity: no vector above the match threshold")
)

// Entry is one registered voiceprint.
type Entry struct {
	Name         string    `json:"name"`
	Vector       []float64 `json:"vector"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Match is a successful identification.
type Match struct {
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// Status summarizes the store for the status endpoint.
type Status struct {
	Entries   int      `json:"entries"`
	Dimension int      `json:"dimension"`
	Names     []string `json:"names"`
}

// Store is a JSON-file backed voiceprint registry. Lookups are a linear
// scan; registries stay small (one per household/team).
type Store struct {
	mu        sync.RWMutex
	entries   []Entry
	path      string
	threshold float64
	log       zerolog.Logger
}

// NewStore loads the registry from path, creating an empty one if the file
// does not exist.
func NewStore(path string, threshold float64) (*Store, error) {
	s := &Store{
		path:      path,
		threshold: threshold,
		log:       logging.WithComponent("identity"),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.log.Info().
		Int("entries", len(s.entries)).
		Float64("threshold", threshold).
		Msg("Voiceprint store loaded")
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read voiceprint store: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return fmt.Errorf("decode voiceprint store: %w", err)
	}
	return nil
}

// persist writes the registry atomically. Caller holds the lock.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Register stores a voiceprint under a name, replacing an existing entry
// with the same name.
func (s *Store) Register(name string, vector []float64) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) > 0 && len(s.entries[0].Vector) != len(vector) {
		return ErrDimensionMismatch
	}

	entry := Entry{Name: name, Vector: vector, RegisteredAt: time.Now()}
	replaced := false
	for i := range s.entries {
		if s.entries[i].Name == name {
			s.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		s.entries = append(s.entries, entry)
	}

	if err := s.persist(); err != nil {
		return fmt.Errorf("persist voiceprint store: %w", err)
	}
	s.log.Info().Str("name", name).Bool("replaced", replaced).Msg("Voiceprint registered")
	return nil
}

// Identify scans for the most similar registered vector. Returns ErrNoMatch
// when nothing crosses the threshold.
func (s *Store) Identify(vector []float64) (Match, error) {
	if len(vector) == 0 {
		return Match{}, ErrEmptyVector
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	best := Match{Similarity: -1}
	for _, e := range s.entries {
		if len(e.Vector) != len(vector) {
			return Match{}, ErrDimensionMismatch
		}
		sim := cosineSimilarity(e.Vector, vector)
		if sim > best.Similarity {
			best = Match{Name: e.Name, Similarity: sim}
		}
	}

	if best.Similarity < s.threshold {
		return Match{}, ErrNoMatch
	}
	return best, nil
}

// Status reports the registry contents.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Entries: len(s.entries)}
	if len(s.entries) > 0 {
		st.Dimension = len(s.entries[0].Vector)
	}
	for _, e := range s.entries {
		st.Names = append(st.Names, e.Name)
	}
	return st
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
