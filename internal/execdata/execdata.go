// Package execdata (de)serializes the runtime execution record the
// spec names but treats as an external collaborator (§6): a
// {canonical_path -> set<int>} line record and, optionally, a
// {canonical_path -> set<(int,int)>} arc record. Persistence of
// execution data is explicitly out of scope as a general system, but a
// minimal JSON codec is the one concrete home this expansion gives it,
// so the façade's diff operations have something to load against.
package execdata

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wharflab/covstatic/internal/cfg"
)

// Record is the decoded runtime execution record for one run: a line
// set and an optional arc set, both keyed by canonical absolute path.
type Record struct {
	Lines map[string]map[int]struct{}
	Arcs  map[string]map[cfg.Arc]struct{}
}

// NewRecord returns an empty, ready-to-populate Record.
func NewRecord() *Record {
	return &Record{Lines: map[string]map[int]struct{}{}, Arcs: map[string]map[cfg.Arc]struct{}{}}
}

// AddLine records one executed line for file.
func (r *Record) AddLine(file string, line int) {
	if r.Lines[file] == nil {
		r.Lines[file] = map[int]struct{}{}
	}
	r.Lines[file][line] = struct{}{}
}

// AddArc records one executed arc for file.
func (r *Record) AddArc(file string, a cfg.Arc) {
	if r.Arcs[file] == nil {
		r.Arcs[file] = map[cfg.Arc]struct{}{}
	}
	r.Arcs[file][a] = struct{}{}
}

// Marshal encodes the record as JSON:
//
//	{"files":[{"path":"a.go","lines":[1,2,3],"arcs":[[1,2],[2,-1]]}]}
//
// Built incrementally with sjson's array-append ("-1") path syntax
// rather than keying a JSON object by file path — that would need
// escaping every "." in a path, which sjson's dotted path syntax
// reserves as a separator.
func (r *Record) Marshal() ([]byte, error) {
	doc := "{}"
	files := allFiles(r)
	var err error
	for _, file := range files {
		entry := map[string]any{"path": file}
		if lines, ok := r.Lines[file]; ok {
			ints := make([]int, 0, len(lines))
			for l := range lines {
				ints = append(ints, l)
			}
			entry["lines"] = ints
		}
		if arcs, ok := r.Arcs[file]; ok {
			pairs := make([][2]int, 0, len(arcs))
			for a := range arcs {
				pairs = append(pairs, [2]int{a.From, a.To})
			}
			entry["arcs"] = pairs
		}
		doc, err = sjson.Set(doc, "files.-1", entry)
		if err != nil {
			return nil, fmt.Errorf("encode execution record for %s: %w", file, err)
		}
	}
	return []byte(doc), nil
}

func allFiles(r *Record) []string {
	seen := map[string]struct{}{}
	var out []string
	for f := range r.Lines {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	for f := range r.Arcs {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// Unmarshal decodes a JSON execution record produced by Marshal (or by
// an external runtime tracer following the same shape).
func Unmarshal(data []byte) (*Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("execdata: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	rec := NewRecord()

	root.Get("files").ForEach(func(_, entry gjson.Result) bool {
		path := entry.Get("path").String()
		if path == "" {
			return true
		}
		entry.Get("lines").ForEach(func(_, line gjson.Result) bool {
			rec.AddLine(path, int(line.Int()))
			return true
		})
		entry.Get("arcs").ForEach(func(_, pair gjson.Result) bool {
			arr := pair.Array()
			if len(arr) == 2 {
				rec.AddArc(path, cfg.Arc{From: int(arr[0].Int()), To: int(arr[1].Int())})
			}
			return true
		})
		return true
	})

	return rec, nil
}
