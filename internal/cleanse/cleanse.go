// Package cleanse normalizes raw source records into clean records keyed by
// part number.
package cleanse

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/partmaster/internal/record"
)

// Stats reports how many records entered and left the cleanser.
type Stats struct {
	In      int `json:"in"`
	Out     int `json:"out"`
	Dropped int `json:"dropped"`
}

// Cleanser applies header normalization, field rules, and enrichment.
type Cleanser struct {
	rules    Rules
	compiled map[string]fieldRule
	enricher Enricher
}

// New creates a Cleanser. A nil enricher disables enrichment.
func New(rules Rules, enricher Enricher) *Cleanser {
	if enricher == nil {
		enricher = NopEnricher{}
	}
	if rules.Aliases == nil {
		rules.Aliases = map[string]string{}
	}
	return &Cleanser{
		rules:    rules,
		compiled: compileRules(rules),
		enricher: enricher,
	}
}

// Clean converts raws to clean records. Records whose part number is unusable
// are dropped and counted. Output order follows input order.
func (c *Cleanser) Clean(raws []record.Raw) ([]record.Record, Stats) {
	stats := Stats{In: len(raws)}
	out := make([]record.Record, 0, len(raws))
	for _, raw := range raws {
		rec := c.CleanOne(raw)
		if !rec.PartNumber().Valid() {
			stats.Dropped++
			continue
		}
		out = append(out, rec)
	}
	stats.Out = len(out)

	if stats.Dropped > 0 {
		zap.L().Debug("cleanse: dropped records without part number",
			zap.Int("in", stats.In),
			zap.Int("dropped", stats.Dropped),
		)
	}
	return out, stats
}

// CleanOne normalizes a single raw record. The result may lack a part number.
func (c *Cleanser) CleanOne(raw record.Raw) record.Record {
	rec := c.normalizeFields(raw.Fields)

	for name, fr := range c.compiled {
		if v, ok := rec[name]; ok {
			rec[name] = fr.apply(v)
		}
	}

	if v := record.SanitizeString(raw.SourceSystem); v.Valid() {
		rec[record.SourceSystem] = v
	}
	if v := record.SanitizeString(raw.SourceFile); v.Valid() {
		rec[record.SourceFile] = v
	}

	c.enrich(rec)
	return rec
}

// normalizeFields renames headers and sanitizes values. Raw keys are visited
// in sorted order so collisions resolve the same way on every run: the first
// non-null value wins.
func (c *Cleanser) normalizeFields(fields map[string]any) record.Record {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rec := make(record.Record, len(fields))
	for _, k := range keys {
		name := NormalizeHeader(k)
		if name == "" {
			continue
		}
		v := record.Sanitize(fields[k])
		if existing, ok := rec[name]; ok && existing.Valid() {
			continue
		}
		rec[name] = v
	}

	// Aliases resolve after all direct fields are in place so that an
	// explicit canonical column always beats an aliased one.
	var aliased []string
	for name := range rec {
		if _, ok := c.rules.Aliases[name]; ok {
			aliased = append(aliased, name)
		}
	}
	sort.Strings(aliased)
	for _, name := range aliased {
		target := c.rules.Aliases[name]
		if target == name || rec.Has(target) {
			continue
		}
		v := rec[name]
		if !v.Valid() {
			continue
		}
		rec[target] = v
		delete(rec, name)
	}
	return rec
}

// enrich applies derived fields without touching populated ones.
func (c *Cleanser) enrich(rec record.Record) {
	derived := c.enricher.Enrich(rec.Clone())
	for name, v := range derived {
		if !v.Valid() || rec.Has(name) || record.Reserved(name) {
			continue
		}
		rec[name] = v
	}
}
