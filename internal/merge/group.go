// Package merge groups clean records by part number and reconciles each group
// into a single merged record.
package merge

import (
	"sort"
	"strings"

	"github.com/sells-group/partmaster/internal/record"
)

// Options controls grouping and merge ordering.
type Options struct {
	// FoldCase groups part numbers case-insensitively. The merged record keeps
	// the spelling of the first member.
	FoldCase bool `yaml:"fold_case" mapstructure:"fold_case"`

	// SourcePriority lists source systems from most to least trusted. Members
	// of a group are stably reordered by it before merging; systems not listed
	// keep their load order after the listed ones.
	SourcePriority []string `yaml:"source_priority" mapstructure:"source_priority"`
}

// Group is the set of clean records sharing one part number.
type Group struct {
	Key     string
	Members []record.Record
}

// Key returns the grouping key for a sanitized part number. Null part numbers
// have no key.
func Key(v record.Value, foldCase bool) (string, bool) {
	if !v.Valid() {
		return "", false
	}
	if foldCase {
		return strings.ToUpper(v.String()), true
	}
	return v.String(), true
}

// GroupByPart partitions recs by part number. Groups are returned in the order
// their key was first seen and members keep their input order. Records
// without a part number are skipped.
func GroupByPart(recs []record.Record, foldCase bool) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, r := range recs {
		key, ok := Key(r.PartNumber(), foldCase)
		if !ok {
			continue
		}
		i, seen := index[key]
		if !seen {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Members = append(groups[i].Members, r)
	}
	return groups
}

// SortBySourcePriority stably reorders members so that records from
// higher-priority systems come first. An empty priority list is a no-op.
func SortBySourcePriority(members []record.Record, priority []string) {
	if len(priority) == 0 || len(members) < 2 {
		return
	}
	rank := make(map[string]int, len(priority))
	for i, p := range priority {
		if _, dup := rank[strings.ToUpper(p)]; !dup {
			rank[strings.ToUpper(p)] = i
		}
	}
	rankOf := func(r record.Record) int {
		if i, ok := rank[strings.ToUpper(r.Get(record.SourceSystem).String())]; ok {
			return i
		}
		return len(priority)
	}
	sort.SliceStable(members, func(i, j int) bool {
		return rankOf(members[i]) < rankOf(members[j])
	})
}
