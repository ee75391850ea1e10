package vars

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Store is the per-run variable map used for interpolation and cross-step
// data passing. It is created fresh for each run, seeded with run metadata,
// extended after every step, and discarded when the run finishes.
type Store struct {
	mu   sync.RWMutex
	data map[string]any
}

// New creates a Store pre-populated with the given seed values.
func New(seed map[string]any) *Store {
	data := make(map[string]any, len(seed)+8)
	for k, v := range seed {
		data[k] = v
	}
	return &Store{data: data}
}

// Get returns the value for key and whether it is present.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores a value under key, overwriting any previous value.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Snapshot returns a shallow copy of the current variables. Used as the
// environment for condition expressions.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]any, len(s.data))
	for k, v := range s.data {
		cp[k] = v
	}
	return cp
}

// Interpolate replaces every {{name}} occurrence in template with the
// stringified value of name when present. Unknown placeholders are left
// untouched: steps routinely reference outputs of earlier steps that may
// not exist when a branch was skipped, and that must not be an error.
func (s *Store) Interpolate(template string) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	b.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "{{")
		if idx == -1 {
			b.WriteString(template[i:])
			break
		}
		b.WriteString(template[i : i+idx])
		start := i + idx + 2

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			// Unclosed marker, keep the rest verbatim.
			b.WriteString(template[i+idx:])
			break
		}
		end += start

		name := strings.TrimSpace(template[start:end])
		if v, ok := s.data[name]; ok {
			b.WriteString(Stringify(v))
		} else {
			b.WriteString(template[i+idx : end+2])
		}
		i = end + 2
	}

	return b.String()
}

// Stringify converts a variable value to its template representation.
// Floats drop trailing zeros so {{price}} reads "42.5", not "42.500000".
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
