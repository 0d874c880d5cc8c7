package record

// FilterTable lists, per department code, the section labels that may be
// shown to the model. Departments without an entry are not filtered.
type FilterTable map[string][]string

// DischargeLetterLabel is the source label of the clinician's own letter.
const DischargeLetterLabel = "Medische Ontslagbrief - Beloop"

var tractusLabels = []string{
	"Tractus 02 Respiratie",
	"Tractus 03 Circulatie",
	"Tractus 04 Neurologie",
	"Tractus 05 Infectie",
	"Tractus 06 VB/nierfunctie",
	"Tractus 07 Gastro-Intestinaal",
	"Tractus 08 Milieu Interieur",
	"Tractus 09 Extr/huid",
	"Tractus 10 Psych/soc",
	"Tractus 11 Overig",
	"Tractus 12 Conclusie",
	"Tractus 13 Opm dagdienst",
	"Tractus 14 Opm A/N dienst",
}

// DefaultFilterTable returns the allow-lists used when the configuration
// does not provide its own.
func DefaultFilterTable() FilterTable {
	ic := append([]string{
		"Dagstatus Print Afspraken",
		"Dagstatus Print Behandeldoelen",
		"Dagstatus Print Chronologie",
		"MS Dagstatus Beleid LT Data",
		"MS Probleemlijst Print",
		"Opname Toedracht (ms)",
		"VG Overzicht (ms)",
		DischargeLetterLabel,
	}, tractusLabels...)
	nicu := append([]string{
		"Dagstatus Print Afspraken",
		"Dagstatus Print Behandeldoelen",
		"Gesprek Item Tekst (ms)",
		"Korte Termijn Beleid (ms)",
		"Lange Termijn Beleid (ms)",
		"MS Probleemlijst Print",
		"Opname Toedracht (ms)",
		DischargeLetterLabel,
	}, tractusLabels...)
	return FilterTable{"IC": ic, "NICU": nicu}
}

// Allows reports whether label may be kept for department.
func (t FilterTable) Allows(department, label string) bool {
	allowed, ok := t[department]
	if !ok {
		return true
	}
	for _, a := range allowed {
		if a == label {
			return true
		}
	}
	return false
}

// FilterByDepartment drops records whose label is not on their
// department's allow-list. The input slice is not modified.
func FilterByDepartment(records []ClinicalRecord, table FilterTable) []ClinicalRecord {
	out := make([]ClinicalRecord, 0, len(records))
	for _, r := range records {
		if table.Allows(r.Department, r.SectionLabel) {
			out = append(out, r)
		}
	}
	return out
}

// DefaultLabelRenames maps source labels to the labels shown in the
// patient file.
func DefaultLabelRenames() map[string]string {
	renames := map[string]string{
		DischargeLetterLabel:             "Ontslagbrief",
		"Dagstatus Print Afspraken":      "Afspraken",
		"Dagstatus Print Behandeldoelen": "Behandeldoelen",
		"Dagstatus Print Chronologie":    "Chronologie",
		"MS Probleemlijst Print":         "Probleemlijst",
		"Opname Toedracht (ms)":          "Opname toedracht",
		"VG Overzicht (ms)":              "Voorgeschiedenis",
	}
	for _, l := range tractusLabels {
		// "Tractus 02 Respiratie" -> "Respiratie"
		renames[l] = l[len("Tractus 00 "):]
	}
	return renames
}
