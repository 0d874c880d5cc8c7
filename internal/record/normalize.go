package record

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TextDeidentifier replaces identifying spans in free text.
type TextDeidentifier interface {
	Deidentify(text string) (string, error)
}

type Options struct {
	// Filters is the department allow-list table. Nil uses
	// DefaultFilterTable; an empty table disables filtering.
	Filters FilterTable
	// Renames maps source labels to display labels. Nil uses
	// DefaultLabelRenames.
	Renames map[string]string
	// Deidentifier, when set, is applied to every body.
	Deidentifier TextDeidentifier
	// EncounterID is used for rows that carry no encounter id, as the
	// on-demand HiX export does.
	EncounterID string
	Logger      zerolog.Logger
}

// DefaultEncounterID is assigned to rows of a single-patient export that
// has no encounter column.
const DefaultEncounterID = "TEMP_ENC_ID"

// Normalize converts raw export rows of one source kind into clinical
// records ordered by encounter, timestamp and label.
func Normalize(rows []RawRow, kind SourceKind, opts Options) ([]ClinicalRecord, error) {
	schema, ok := sourceSchemas[kind]
	if !ok {
		return nil, unknownSource(kind)
	}
	if len(rows) == 0 {
		return []ClinicalRecord{}, nil
	}
	filters := opts.Filters
	if filters == nil {
		filters = DefaultFilterTable()
	}
	renames := opts.Renames
	if renames == nil {
		renames = DefaultLabelRenames()
	}
	log := opts.Logger.With().Str("source", string(kind)).Logger()

	records := make([]ClinicalRecord, 0, len(rows))
	for i, raw := range rows {
		row := canonical(raw, schema.renames)
		rec, err := toRecord(row, opts.EncounterID)
		if err != nil {
			log.Warn().Err(err).Int("row", i).Msg("dropping row")
			continue
		}
		if schema.richText {
			text, err := DecodeRTF(rec.Body)
			if err != nil {
				log.Warn().Err(err).Int("row", i).Str("enc_id", rec.EncounterID).Msg("dropping row with undecodable rich text")
				continue
			}
			rec.Body = text
		}
		rec.Body = ReplaceTemplatedBlocks(rec.Body)
		if opts.Deidentifier != nil && strings.TrimSpace(rec.Body) != "" {
			text, err := opts.Deidentifier.Deidentify(rec.Body)
			if err != nil {
				log.Warn().Err(err).Int("row", i).Str("enc_id", rec.EncounterID).Msg("dropping row that could not be de-identified")
				continue
			}
			rec.Body = text
		}
		records = append(records, rec)
	}

	repairSentinelDates(records)
	records = dropSameDayStays(records)
	records = FilterByDepartment(records, filters)
	for i := range records {
		if display, ok := renames[records[i].SectionLabel]; ok {
			records[i].SectionLabel = display
		}
	}
	records = dropEmptyAndDuplicates(records)
	sortRecords(records)
	return records, nil
}

func unknownSource(kind SourceKind) error {
	return fmt.Errorf("%w: unknown source kind %q", ErrConfiguration, kind)
}

func canonical(raw RawRow, renames map[string]string) RawRow {
	row := make(RawRow, len(raw))
	for k, v := range raw {
		if to, ok := renames[k]; ok {
			// An explicit canonical column wins over a renamed one.
			if _, exists := raw[to]; exists {
				continue
			}
			row[to] = v
			continue
		}
		row[k] = v
	}
	return row
}

func toRecord(row RawRow, defaultEncounter string) (ClinicalRecord, error) {
	rec := ClinicalRecord{
		EncounterID:  stringField(row, fieldEncounter),
		PatientID:    stringField(row, fieldPatient),
		Department:   DepartmentCode(stringField(row, fieldDept)),
		SectionLabel: stringField(row, fieldLabel),
		Body:         stringField(row, fieldBody),
	}
	if rec.PatientID == "" {
		rec.PatientID = stringField(row, fieldPseudo)
	}
	if rec.EncounterID == "" {
		rec.EncounterID = defaultEncounter
		if rec.EncounterID == "" {
			rec.EncounterID = DefaultEncounterID
		}
	}
	var err error
	if rec.Timestamp, err = timeField(row, fieldDate); err != nil {
		return ClinicalRecord{}, err
	}
	if rec.AdmissionDate, err = timeField(row, fieldAdmission); err != nil {
		return ClinicalRecord{}, err
	}
	if rec.DischargeDate, err = timeField(row, fieldDischarge); err != nil {
		return ClinicalRecord{}, err
	}
	if rec.AdmissionDate != nil && rec.DischargeDate != nil {
		days := int(math.Floor(rec.DischargeDate.Sub(*rec.AdmissionDate).Hours() / 24))
		rec.LengthOfStay = &days
	}
	return rec, nil
}

func stringField(row RawRow, key string) string {
	switch v := row[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
}

// ParseTime accepts the date formats found in the source exports.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func timeField(row RawRow, key string) (*time.Time, error) {
	switch v := row[key].(type) {
	case nil:
		return nil, nil
	case time.Time:
		if v.IsZero() {
			return nil, nil
		}
		return &v, nil
	case float64:
		// JSON exports of data frames encode dates as epoch milliseconds.
		t := time.UnixMilli(int64(v)).UTC()
		return &t, nil
	case json.Number:
		ms, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		t, err := ParseTime(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("%s: unsupported date value %T", key, v)
	}
}

// repairSentinelDates clears the "unknown" sentinel and moves legacy
// sentinel rows to the latest real date of their encounter.
func repairSentinelDates(records []ClinicalRecord) {
	latest := map[string]time.Time{}
	for i := range records {
		ts := records[i].Timestamp
		if ts == nil {
			continue
		}
		switch ts.Year() {
		case unknownDateYear:
			records[i].Timestamp = nil
		case legacyDateYear:
		default:
			if cur, ok := latest[records[i].EncounterID]; !ok || ts.After(cur) {
				latest[records[i].EncounterID] = *ts
			}
		}
	}
	for i := range records {
		ts := records[i].Timestamp
		if ts == nil || ts.Year() != legacyDateYear {
			continue
		}
		if t, ok := latest[records[i].EncounterID]; ok {
			records[i].Timestamp = &t
		} else {
			records[i].Timestamp = nil
		}
	}
}

func dropSameDayStays(records []ClinicalRecord) []ClinicalRecord {
	out := records[:0]
	for _, r := range records {
		if r.LengthOfStay != nil && *r.LengthOfStay == 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}

type recordKey struct {
	encounter string
	label     string
	timestamp int64
	hasTime   bool
}

func keyOf(r ClinicalRecord) recordKey {
	k := recordKey{encounter: r.EncounterID, label: r.SectionLabel}
	if r.Timestamp != nil {
		k.timestamp = r.Timestamp.UnixNano()
		k.hasTime = true
	}
	return k
}

// dropEmptyAndDuplicates keeps the last body for every
// (encounter, label, timestamp) and drops blank bodies.
func dropEmptyAndDuplicates(records []ClinicalRecord) []ClinicalRecord {
	last := map[recordKey]int{}
	for i, r := range records {
		if strings.TrimSpace(r.Body) == "" {
			continue
		}
		last[keyOf(r)] = i
	}
	out := make([]ClinicalRecord, 0, len(last))
	for i, r := range records {
		if strings.TrimSpace(r.Body) == "" {
			continue
		}
		if last[keyOf(r)] == i {
			out = append(out, r)
		}
	}
	return out
}

func sortRecords(records []ClinicalRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.EncounterID != b.EncounterID {
			return a.EncounterID < b.EncounterID
		}
		if c := CompareTimes(a.Timestamp, b.Timestamp); c != 0 {
			return c < 0
		}
		return a.SectionLabel < b.SectionLabel
	})
}

// CompareTimes orders timestamps ascending with unknown dates last.
func CompareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}
