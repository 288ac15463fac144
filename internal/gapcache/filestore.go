package gapcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jask/banksync/internal/daterange"
)

// FileStore persists the gap cache as a JSON file. Used when no SQLite
// store is configured.
type FileStore struct {
	Path string
}

type fileRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type fileEntry struct {
	CheckedEmpty []fileRange       `json:"checked_empty,omitempty"`
	Earliest     map[string]string `json:"earliest,omitempty"`
}

// Load reads the cache file. A missing file is an empty cache, not an
// error.
func (s *FileStore) Load(_ context.Context) (map[string]Entry, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("read gap cache: %w", err)
	}
	var decoded map[string]fileEntry
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode gap cache: %w", err)
	}

	out := make(map[string]Entry, len(decoded))
	for key, fe := range decoded {
		e := Entry{Earliest: make(map[string]time.Time, len(fe.Earliest))}
		for _, fr := range fe.CheckedEmpty {
			start, err := time.Parse(time.DateOnly, fr.Start)
			if err != nil {
				return nil, fmt.Errorf("gap cache %s: bad start %q: %w", key, fr.Start, err)
			}
			end, err := time.Parse(time.DateOnly, fr.End)
			if err != nil {
				return nil, fmt.Errorf("gap cache %s: bad end %q: %w", key, fr.End, err)
			}
			r, err := daterange.New(start, end)
			if err != nil {
				return nil, fmt.Errorf("gap cache %s: %w", key, err)
			}
			e.CheckedEmpty = append(e.CheckedEmpty, r)
		}
		for id, ds := range fe.Earliest {
			d, err := time.Parse(time.DateOnly, ds)
			if err != nil {
				return nil, fmt.Errorf("gap cache %s: bad earliest %q: %w", key, ds, err)
			}
			e.Earliest[id] = daterange.Day(d)
		}
		out[key] = e
	}
	return out, nil
}

// Save writes the snapshot atomically (write temp, rename).
func (s *FileStore) Save(_ context.Context, snapshot map[string]Entry) error {
	encoded := make(map[string]fileEntry, len(snapshot))
	for key, e := range snapshot {
		fe := fileEntry{Earliest: make(map[string]string, len(e.Earliest))}
		for _, r := range e.CheckedEmpty {
			fe.CheckedEmpty = append(fe.CheckedEmpty, fileRange{
				Start: r.Start.Format(time.DateOnly),
				End:   r.End.Format(time.DateOnly),
			})
		}
		for id, d := range e.Earliest {
			fe.Earliest[id] = d.Format(time.DateOnly)
		}
		encoded[key] = fe
	}

	raw, err := json.MarshalIndent(encoded, "", "  ")
	if err != nil {
		return fmt.Errorf("encode gap cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir gap cache dir: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write gap cache: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("replace gap cache: %w", err)
	}
	return nil
}
