package cleanse

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/partmaster/internal/record"
)

// Rules configures field normalization. Field names are post-NormalizeHeader.
type Rules struct {
	// Aliases rename a field to its canonical name. The rename only happens
	// when the canonical field is not already populated by the same record.
	Aliases map[string]string `yaml:"aliases"`

	// Upper lists code-like fields that are upper-cased.
	Upper []string `yaml:"upper"`

	// CollapseSpace lists free-text fields whose internal whitespace runs are
	// collapsed to one space.
	CollapseSpace []string `yaml:"collapse_space"`

	// Code lists identifier fields that have internal whitespace removed and
	// spreadsheet float artefacts ("12345.0") repaired.
	Code []string `yaml:"code"`
}

// DefaultRules returns the rules used for ERP, vendor catalog, BI, purchase
// order and invoice exports. part_number is deliberately absent from Upper
// and Code: the merge key is only trimmed.
func DefaultRules() Rules {
	return Rules{
		Aliases: map[string]string{
			"material_no":     record.PartNumber,
			"material_number": record.PartNumber,
			"part_no":         record.PartNumber,
			"part_num":        record.PartNumber,
			"partnumber":      record.PartNumber,
			"part_number_no":  record.PartNumber,
			"item_number":     record.PartNumber,
			"item_no":         record.PartNumber,
			"pn":              record.PartNumber,
			"part":            record.PartNumber,

			"material_description": "description",
			"item_description":     "description",
			"part_description":     "description",
			"desc":                 "description",
			"supplier":             "vendor_name",
			"supplier_name":        "vendor_name",
			"vendor":               "vendor_name",
			"unit_price":           "cost",
			"unit_cost":            "cost",
			"price":                "cost",
			"std_cost":             "cost",
			"curr":                 "currency",
			"uom":                  "order_uom",
			"vendor_no":            "vendor_code",
			"supplier_no":          "vendor_code",
			"qty":                  "quantity",
		},
		Upper:         []string{"vendor_code", "commodity_code", "currency", "plant", "abc_class", "order_uom", "purchase_uom", "material_type", "valuation_type"},
		CollapseSpace: []string{"description", "vendor_name", "notes", "remarks", "analysis_comment"},
		Code:          []string{"vendor_code", "commodity_code", "drawing_no", "revision_no"},
	}
}

// LoadRules reads a YAML rules file and merges it over DefaultRules. Aliases
// in the file override defaults with the same key; list entries are added.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, eris.Wrapf(err, "cleanse: read rules %s", path)
	}

	var file Rules
	if err := yaml.Unmarshal(data, &file); err != nil {
		return rules, eris.Wrapf(err, "cleanse: parse rules %s", path)
	}

	for from, to := range file.Aliases {
		rules.Aliases[NormalizeHeader(from)] = NormalizeHeader(to)
	}
	rules.Upper = appendUnique(rules.Upper, file.Upper...)
	rules.CollapseSpace = appendUnique(rules.CollapseSpace, file.CollapseSpace...)
	rules.Code = appendUnique(rules.Code, file.Code...)
	return rules, nil
}

func appendUnique(dst []string, src ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		s = NormalizeHeader(s)
		if s != "" && !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

var (
	spaceRun      = regexp.MustCompile(`\s+`)
	floatArtefact = regexp.MustCompile(`^(-?\d+)\.0+$`)
)

// fieldRule is the compiled form of Rules for one field.
type fieldRule struct {
	upper    bool
	collapse bool
	code     bool
}

func (fr fieldRule) apply(v record.Value) record.Value {
	if !v.Valid() {
		return v
	}
	s := v.String()
	if fr.collapse {
		s = spaceRun.ReplaceAllString(s, " ")
	}
	if fr.code {
		s = strings.Join(strings.Fields(s), "")
		s = floatArtefact.ReplaceAllString(s, "$1")
	}
	if fr.upper {
		s = strings.ToUpper(s)
	}
	return record.SanitizeString(s)
}

func compileRules(r Rules) map[string]fieldRule {
	out := make(map[string]fieldRule)
	for _, f := range r.Upper {
		fr := out[f]
		fr.upper = true
		out[f] = fr
	}
	for _, f := range r.CollapseSpace {
		fr := out[f]
		fr.collapse = true
		out[f] = fr
	}
	for _, f := range r.Code {
		fr := out[f]
		fr.code = true
		out[f] = fr
	}
	// The merge key is never rewritten beyond sanitizing.
	delete(out, record.PartNumber)
	return out
}
