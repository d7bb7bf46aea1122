package merge

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/partmaster/internal/record"
)

// ErrEmptyGroup is returned when Merge is called with no members. Grouping
// never produces such a group, so this indicates a caller bug.
var ErrEmptyGroup = eris.New("merge: empty group")

// provenanceFields are accumulated across members rather than resolved.
var provenanceFields = map[string]bool{
	record.SourceSystem: true,
	record.SourceFile:   true,
	record.Sources:      true,
}

// Merge collapses members into one record. For every field the first non-null
// value in member order wins. The part number is taken verbatim from the first
// member. Provenance is accumulated: source_system and source_file become
// deduplicated comma-joined lists, and sources lists each distinct
// "SYSTEM:file" pair in order of first appearance.
func Merge(members []record.Record) (record.Record, error) {
	merged, _, err := MergeWithProvenance(members)
	return merged, err
}

// MergeWithProvenance is Merge that also reports, for each resolved field, the
// source system of the member whose value won.
func MergeWithProvenance(members []record.Record) (record.Record, map[string]string, error) {
	if len(members) == 0 {
		return nil, nil, ErrEmptyGroup
	}

	merged := make(record.Record)
	winners := make(map[string]string)
	systems := newOrderedSet()
	files := newOrderedSet()
	sources := newOrderedSet()

	for _, m := range members {
		system := m.Get(record.SourceSystem)
		for name, v := range m {
			if provenanceFields[name] || name == record.PartNumber {
				continue
			}
			v = record.Sanitize(v)
			if cur, ok := merged[name]; ok && cur.Valid() {
				continue
			}
			merged[name] = v
			if v.Valid() {
				winners[name] = system.String()
			}
		}

		file := m.Get(record.SourceFile)
		// A member that is itself a merge result carries lists, not names.
		if prior := m.Get(record.Sources); prior.Valid() {
			systems.addList(system)
			files.addList(file)
			sources.addList(prior)
		} else {
			systems.add(system.String())
			files.add(file.String())
			sources.add(sourceToken(system, file))
		}
	}

	merged[record.PartNumber] = record.Sanitize(members[0].PartNumber())
	merged[record.SourceSystem] = systems.value()
	merged[record.SourceFile] = files.value()
	merged[record.Sources] = sources.value()
	return merged, winners, nil
}

// MergeAll applies source priority and merges every group, returning merged
// records in group order.
func MergeAll(groups []Group, opts Options) ([]record.Record, error) {
	out, _, err := MergeAllWithProvenance(groups, opts)
	return out, err
}

// MergeAllWithProvenance is MergeAll that also returns, per merged record, the
// winning source system of each field.
func MergeAllWithProvenance(groups []Group, opts Options) ([]record.Record, []map[string]string, error) {
	out := make([]record.Record, 0, len(groups))
	winners := make([]map[string]string, 0, len(groups))
	for _, g := range groups {
		SortBySourcePriority(g.Members, opts.SourcePriority)
		merged, won, err := MergeWithProvenance(g.Members)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "merge: part %q", g.Key)
		}
		out = append(out, merged)
		winners = append(winners, won)
	}
	return out, winners, nil
}

func sourceToken(system, file record.Value) string {
	switch {
	case system.Valid() && file.Valid():
		return system.String() + ":" + file.String()
	case system.Valid():
		return system.String()
	default:
		return file.String()
	}
}

// orderedSet is an insertion-ordered set of non-empty strings.
type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(item string) {
	item = strings.TrimSpace(item)
	if item == "" || s.seen[item] {
		return
	}
	s.seen[item] = true
	s.items = append(s.items, item)
}

// addList adds each element of a list written by JoinList.
func (s *orderedSet) addList(v record.Value) {
	if !v.Valid() {
		return
	}
	for _, item := range SplitList(v.String()) {
		s.add(item)
	}
}

func (s *orderedSet) value() record.Value {
	return record.SanitizeString(JoinList(s.items))
}

// JoinList joins provenance items with commas. Commas and backslashes inside
// an item are escaped with a backslash.
func JoinList(items []string) string {
	escaped := make([]string, len(items))
	for i, item := range items {
		escaped[i] = listEscaper.Replace(item)
	}
	return strings.Join(escaped, ",")
}

var listEscaper = strings.NewReplacer(`\`, `\\`, ",", `\,`)

// SplitList is the inverse of JoinList.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	var (
		out []string
		cur strings.Builder
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case c == ',':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(out, cur.String())
}
