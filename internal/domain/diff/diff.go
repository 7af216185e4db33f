// Package diff reshapes the upstream runtime's raw per-file diff rows into
// the stable structure exposed to clients.
package diff

import "encoding/json"

// File is one changed file in a session's working tree.
type File struct {
	File      string `json:"file"`
	Status    string `json:"status,omitempty"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Summary aggregates a set of file diffs. It is always recomputed from the
// files slice, never trusted from upstream, so the report stays internally
// consistent even when the upstream payload is malformed or partial.
type Summary struct {
	Files     int `json:"files"`
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Report is the client-facing diff result.
type Report struct {
	Files   []File  `json:"files"`
	Summary Summary `json:"summary"`
}

// Build assembles a Report from parsed files, recomputing the summary.
func Build(files []File) Report {
	r := Report{Files: files}
	if r.Files == nil {
		r.Files = []File{}
	}
	r.Summary.Files = len(r.Files)
	for _, f := range r.Files {
		r.Summary.Additions += f.Additions
		r.Summary.Deletions += f.Deletions
	}
	return r
}

// FromRaw leniently parses upstream diff rows. Upstream versions disagree on
// field names, so several aliases are accepted per field; rows without any
// recognizable file name are skipped.
func FromRaw(rows []json.RawMessage) Report {
	files := make([]File, 0, len(rows))
	for _, row := range rows {
		var m map[string]any
		if err := json.Unmarshal(row, &m); err != nil {
			continue
		}
		name := stringField(m, "file", "path", "filename")
		if name == "" {
			continue
		}
		files = append(files, File{
			File:      name,
			Status:    stringField(m, "status", "type"),
			Additions: intField(m, "additions", "added"),
			Deletions: intField(m, "deletions", "removed", "deleted"),
		})
	}
	return Build(files)
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func intField(m map[string]any, keys ...string) int {
	for _, k := range keys {
		// JSON numbers decode to float64.
		if f, ok := m[k].(float64); ok {
			return int(f)
		}
	}
	return 0
}
