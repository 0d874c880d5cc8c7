// Package record normalizes clinical export rows from the supported source
// systems into ClinicalRecords.
package record

import (
	"errors"
	"time"
)

// ErrConfiguration marks deployment or programmer misconfiguration. It is
// never converted into a letter outcome.
var ErrConfiguration = errors.New("configuration error")

// ClinicalRecord is one timestamped section of a patient's chart.
type ClinicalRecord struct {
	EncounterID   string     `json:"enc_id"`
	PatientID     string     `json:"patient_id,omitempty"`
	Department    string     `json:"department"`
	SectionLabel  string     `json:"description"`
	Timestamp     *time.Time `json:"date,omitempty"`
	Body          string     `json:"content"`
	AdmissionDate *time.Time `json:"admissionDate,omitempty"`
	DischargeDate *time.Time `json:"dischargeDate,omitempty"`
	LengthOfStay  *int       `json:"length_of_stay,omitempty"`
}

// SourceKind selects the export shape of the raw rows.
type SourceKind string

const (
	SourceHiX        SourceKind = "hix"
	SourceMetavision SourceKind = "metavision"
	SourceDemo       SourceKind = "demo"
)

// ParseSourceKind validates a source name coming from flags or config.
func ParseSourceKind(s string) (SourceKind, error) {
	k := SourceKind(s)
	if _, ok := sourceSchemas[k]; !ok {
		return "", unknownSource(k)
	}
	return k, nil
}

// RawRow is one row of a source export, keyed by the source's field names.
type RawRow map[string]any

// Canonical field names every source is renamed to.
const (
	fieldEncounter = "enc_id"
	fieldPatient   = "patient_id"
	fieldPseudo    = "pseudo_id"
	fieldDept      = "department"
	fieldLabel     = "description"
	fieldDate      = "date"
	fieldBody      = "content"
	fieldAdmission = "admissionDate"
	fieldDischarge = "dischargeDate"
)

type sourceSchema struct {
	renames  map[string]string
	richText bool
}

var sourceSchemas = map[SourceKind]sourceSchema{
	SourceHiX: {
		renames: map[string]string{
			"TEXT":       fieldBody,
			"NAAM":       fieldLabel,
			"DATE":       fieldDate,
			"SPECIALISM": fieldDept,
		},
		richText: true,
	},
	SourceMetavision: {
		renames: map[string]string{
			"AddmissionDate": fieldAdmission,
			"AdmissionDate":  fieldAdmission,
			"DischargeDate":  fieldDischarge,
			"Name":           fieldDept,
			"Time":           fieldDate,
			"Abbreviation":   fieldLabel,
			"Value":          fieldBody,
		},
	},
	SourceDemo: {
		renames: map[string]string{
			"AddmissionDate": fieldAdmission,
			"DischargeDate":  fieldDischarge,
		},
	},
}

// DepartmentCodes maps the long department names used by the source
// systems to the short codes used for prompts and filtering.
var DepartmentCodes = map[string]string{
	"Neonatologie":            "NICU",
	"Intensive Care Centrum":  "IC",
	"High Care Kinderen":      "PICU",
	"Intensive Care Kinderen": "PICU",
	"Cardiologie":             "CAR",
}

// DepartmentCode returns the short code for a department name. Names that
// are already codes, or unknown, are returned unchanged.
func DepartmentCode(name string) string {
	if code, ok := DepartmentCodes[name]; ok {
		return code
	}
	return name
}

// Sentinel years used by the source systems for unknown dates.
const (
	unknownDateYear = 2999
	legacyDateYear  = 1899
)
