package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// legacyWatermarkPrefix marks the single-repository description format
// "git:<repoPath>:<sha>".
const legacyWatermarkPrefix = "git:"

// HistorySuffix is appended to a repository key for the commit-history stream.
const HistorySuffix = ":history"

// Watermarks maps a progress key (an absolute repository path, a
// "<repo>:history" key, or "since" for timestamp sources) to its marker.
type Watermarks map[string]string

// Get returns the marker for key.
func (w Watermarks) Get(key string) (string, bool) {
	v, ok := w[key]
	return v, ok && v != ""
}

// Clone returns an independent copy.
func (w Watermarks) Clone() Watermarks {
	out := make(Watermarks, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Keys returns the keys in sorted order.
func (w Watermarks) Keys() []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (w Watermarks) encode() (string, error) {
	if w == nil {
		w = Watermarks{}
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to encode watermarks: %w", err)
	}
	return string(data), nil
}

// watermarkOrigin says where decodeWatermarks found the marker
type watermarkOrigin int

const (
	originNone watermarkOrigin = iota
	originColumn
	originLegacy
	// originCorrupt means the column held text that is not a JSON object
	originCorrupt
)

// decodeWatermarks reads the explicit watermark column. When it is empty or
// unreadable the description is consulted for the legacy JSON and
// "git:<repo>:<sha>" forms.
func decodeWatermarks(column, description sql.NullString) (Watermarks, watermarkOrigin) {
	corrupt := false
	if column.Valid && column.String != "" {
		if w := parseJSONWatermarks(column.String); w != nil {
			return w, originColumn
		}
		corrupt = true
	}
	if description.Valid {
		if w := ParseLegacyWatermarks(description.String); len(w) > 0 {
			return w, originLegacy
		}
	}
	if corrupt {
		return Watermarks{}, originCorrupt
	}
	return Watermarks{}, originNone
}

// ParseLegacyWatermarks parses a description string written by older
// versions: either a JSON object or "git:<repoPath>:<sha>". Repository paths
// may contain colons, so the SHA is split off the last one.
func ParseLegacyWatermarks(desc string) Watermarks {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return nil
	}
	if strings.HasPrefix(desc, "{") {
		return parseJSONWatermarks(desc)
	}
	if rest, ok := strings.CutPrefix(desc, legacyWatermarkPrefix); ok {
		i := strings.LastIndex(rest, ":")
		if i <= 0 || i == len(rest)-1 {
			return nil
		}
		return Watermarks{rest[:i]: rest[i+1:]}
	}
	return nil
}

func parseJSONWatermarks(s string) Watermarks {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil
	}
	out := make(Watermarks, len(raw))
	for k, v := range raw {
		if str, ok := v.(string); ok {
			out[k] = str
		}
	}
	return out
}
