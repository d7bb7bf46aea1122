package cleanse

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/partmaster/internal/record"
)

// Enricher derives additional fields from a cleaned record. Implementations
// return only the fields they could derive; the Cleanser decides which of
// them are applied.
type Enricher interface {
	Enrich(r record.Record) record.Record
}

// NopEnricher derives nothing.
type NopEnricher struct{}

// Enrich implements Enricher.
func (NopEnricher) Enrich(record.Record) record.Record { return nil }

// Fields derived by DescriptionEnricher.
const (
	FieldDescriptionClean = "description_clean"
	FieldMaterial         = "material"
	FieldSpecGrade        = "spec_grade"
	FieldSpecFinish       = "spec_finish"
	FieldDimensions       = "dimensions"
	FieldSpecWeight       = "spec_weight"
	FieldSpecTolerance    = "spec_tolerance"
	FieldIsStandardPart   = "is_standard_part"
	FieldCategoryRaw      = "category_raw"
)

// descriptionFields are searched in order for free text.
var descriptionFields = []string{"description", "material_description", "item_description"}

type keyword struct {
	pattern *regexp.Regexp
	value   string
}

func kw(pattern, value string) keyword {
	return keyword{pattern: regexp.MustCompile(`\b(?:` + pattern + `)\b`), value: value}
}

// Order matters: more specific materials must precede generic ones.
var materials = []keyword{
	kw(`STAINLESS(?:\s+STEEL)?|SS\s?30[34]L?|SS\s?316L?|SST`, "STAINLESS STEEL"),
	kw(`CARBON\s+STEEL|CS`, "CARBON STEEL"),
	kw(`CAST\s+IRON`, "CAST IRON"),
	kw(`ALUMIN(?:IUM|UM)|AL\s?6061|AL\s?7075`, "ALUMINUM"),
	kw(`TITANIUM|TI-6AL-4V`, "TITANIUM"),
	kw(`BRASS`, "BRASS"),
	kw(`BRONZE`, "BRONZE"),
	kw(`COPPER|CU`, "COPPER"),
	kw(`NYLON|PA6|PA66`, "NYLON"),
	kw(`PTFE|TEFLON`, "PTFE"),
	kw(`PVC`, "PVC"),
	kw(`POLYCARBONATE`, "POLYCARBONATE"),
	kw(`EPDM|NBR|NITRILE|VITON|RUBBER`, "RUBBER"),
	kw(`STEEL`, "STEEL"),
}

var finishes = []keyword{
	kw(`ZINC\s+PLATED|ZN\s+PLATED|ZINC`, "ZINC PLATED"),
	kw(`HOT[-\s]DIP(?:PED)?\s+GALVANI[SZ]ED|HDG`, "HOT DIP GALVANIZED"),
	kw(`GALVANI[SZ]ED|GALV`, "GALVANIZED"),
	kw(`ANODI[SZ]ED`, "ANODIZED"),
	kw(`BLACK\s+OXIDE`, "BLACK OXIDE"),
	kw(`POWDER\s+COATED|POWDERCOATED`, "POWDER COATED"),
	kw(`CHROME\s+PLATED|CHROMED`, "CHROME PLATED"),
	kw(`NICKEL\s+PLATED`, "NICKEL PLATED"),
	kw(`PASSIVATED`, "PASSIVATED"),
	kw(`PAINTED`, "PAINTED"),
}

var categories = []keyword{
	kw(`BOLTS?|SCREWS?|NUTS?|WASHERS?|RIVETS?|STUDS?|FASTENERS?`, "FASTENER"),
	kw(`BEARINGS?|BUSHINGS?`, "BEARING"),
	kw(`GASKETS?|O-?RINGS?|SEALS?`, "SEAL"),
	kw(`VALVES?`, "VALVE"),
	kw(`PIPES?|TUBES?|TUBING|FITTINGS?|ELBOWS?|FLANGES?`, "PIPING"),
	kw(`BRACKETS?|PLATES?|SHEETS?|PANELS?`, "SHEET METAL"),
	kw(`CABLES?|WIRES?|CONNECTORS?|TERMINALS?|HARNESS`, "ELECTRICAL"),
	kw(`MOTORS?|PUMPS?|GEARBOX(?:ES)?|COMPRESSORS?`, "ROTATING EQUIPMENT"),
	kw(`SPRINGS?`, "SPRING"),
	kw(`SHAFTS?|COUPLINGS?|GEARS?|PULLEYS?`, "POWER TRANSMISSION"),
	kw(`FILTERS?`, "FILTER"),
	kw(`LABELS?|DECALS?`, "LABEL"),
}

var (
	gradePattern     = regexp.MustCompile(`\b(?:GRADE|GR\.?)\s*([A-Z0-9][A-Z0-9.-]*)|\b(304L?|316L?|6061(?:-T6)?|7075(?:-T6)?|A36|A193\s?B7|1018|1045|4140|8\.8|10\.9|12\.9)\b`)
	dimensionPattern = regexp.MustCompile(`\b(?:M\d+(?:\.\d+)?(?:\s*X\s*\d+(?:\.\d+)?)+|\d+(?:\.\d+)?\s*(?:MM|IN|"|CM)?(?:\s*X\s*\d+(?:\.\d+)?\s*(?:MM|IN|"|CM)?)+|M\d+(?:\.\d+)?|\d+(?:\.\d+)?\s*(?:MM|IN)\b)`)
	weightPattern    = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(KG|KGS|G|LB|LBS|OZ)\b`)
	tolerancePattern = regexp.MustCompile(`(?:±|\+/-|\+-)\s*(\d+(?:\.\d+)?)\s*(MM|IN|%)?`)
	standardPattern  = regexp.MustCompile(`\b(?:ISO|DIN|ANSI|ASME|ASTM|SAE|EN|JIS|BS)\s*[A-Z]?\d+`)
)

// DescriptionEnricher extracts technical attributes from free-text part
// descriptions with regular expressions.
type DescriptionEnricher struct{}

// Enrich implements Enricher. Records without description text yield nothing.
func (DescriptionEnricher) Enrich(r record.Record) record.Record {
	text := descriptionText(r)
	if text == "" {
		return nil
	}

	upper := strings.ToUpper(text)
	out := record.Record{
		FieldDescriptionClean: record.SanitizeString(upper),
		FieldMaterial:         firstKeyword(materials, upper),
		FieldSpecFinish:       firstKeyword(finishes, upper),
		FieldCategoryRaw:      firstKeyword(categories, upper),
		FieldDimensions:       firstMatch(dimensionPattern, upper),
		FieldSpecWeight:       firstMatch(weightPattern, upper),
		FieldSpecTolerance:    firstMatch(tolerancePattern, upper),
	}
	if m := gradePattern.FindStringSubmatch(upper); m != nil {
		grade := m[1]
		if grade == "" {
			grade = m[2]
		}
		out[FieldSpecGrade] = record.SanitizeString(grade)
	}
	if standardPattern.MatchString(upper) {
		out[FieldIsStandardPart] = record.String("Y")
	} else {
		out[FieldIsStandardPart] = record.String("N")
	}
	return out
}

// descriptionText returns the first populated description field, normalized
// to NFKC with whitespace collapsed.
func descriptionText(r record.Record) string {
	for _, f := range descriptionFields {
		if v := r.Get(f); v.Valid() {
			s := norm.NFKC.String(v.String())
			return strings.Join(strings.Fields(s), " ")
		}
	}
	return ""
}

func firstKeyword(list []keyword, text string) record.Value {
	for _, k := range list {
		if k.pattern.MatchString(text) {
			return record.String(k.value)
		}
	}
	return record.Null()
}

func firstMatch(re *regexp.Regexp, text string) record.Value {
	return record.SanitizeString(re.FindString(text))
}
