package record

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metavisionRow(enc, dept, label, date, body string) RawRow {
	return RawRow{
		"enc_id":        enc,
		"pseudo_id":     "p-" + enc,
		"department":    dept,
		"description":   label,
		"date":          date,
		"content":       body,
		"admissionDate": "2024-01-01",
		"dischargeDate": "2024-01-05",
	}
}

func TestNormalizeUnknownSourceKind(t *testing.T) {
	_, err := Normalize([]RawRow{{}}, SourceKind("epic"), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = ParseSourceKind("epic")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestNormalizeEmptyInput(t *testing.T) {
	out, err := Normalize(nil, SourceMetavision, Options{})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestNormalizeDropsDuplicateTriples(t *testing.T) {
	rows := []RawRow{
		metavisionRow("1", "CAR", "Respiratie", "2024-01-02 08:00:00", "eerste"),
		metavisionRow("1", "CAR", "Respiratie", "2024-01-02 08:00:00", "tweede"),
		metavisionRow("1", "CAR", "Respiratie", "2024-01-02 08:00:00", "tweede"),
		metavisionRow("1", "CAR", "Circulatie", "2024-01-02 08:00:00", "stabiel"),
	}
	out, err := Normalize(rows, SourceMetavision, Options{})
	require.NoError(t, err)
	require.Len(t, out, 2)

	seen := map[recordKey]bool{}
	for _, r := range out {
		k := keyOf(r)
		assert.False(t, seen[k], "duplicate triple %+v", k)
		seen[k] = true
	}
	assert.Equal(t, "Circulatie", out[0].SectionLabel)
	assert.Equal(t, "tweede", out[1].Body)
}

func TestNormalizeDropsZeroLengthStays(t *testing.T) {
	same := metavisionRow("2", "CAR", "Respiratie", "2024-01-02", "kort")
	same["admissionDate"] = "2024-01-02 09:00:00"
	same["dischargeDate"] = "2024-01-02 17:00:00"
	rows := []RawRow{
		same,
		metavisionRow("3", "CAR", "Respiratie", "2024-01-02", "lang"),
	}
	out, err := Normalize(rows, SourceMetavision, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "3", out[0].EncounterID)
	require.NotNil(t, out[0].LengthOfStay)
	assert.Equal(t, 4, *out[0].LengthOfStay)
}

func TestNormalizeDropsEmptyBodies(t *testing.T) {
	rows := []RawRow{
		metavisionRow("1", "CAR", "Respiratie", "2024-01-02", "  \n "),
		metavisionRow("1", "CAR", "Circulatie", "2024-01-02", "ok"),
	}
	out, err := Normalize(rows, SourceMetavision, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Circulatie", out[0].SectionLabel)
}

func TestNormalizeSentinelDates(t *testing.T) {
	rows := []RawRow{
		metavisionRow("1", "CAR", "Respiratie", "2024-01-02 10:00:00", "a"),
		metavisionRow("1", "CAR", "Circulatie", "2024-01-04 12:00:00", "b"),
		metavisionRow("1", "CAR", DischargeLetterLabel, "1899-12-30", "brief"),
		metavisionRow("1", "CAR", "Overig", "2999-12-31", "c"),
		metavisionRow("2", "CAR", DischargeLetterLabel, "1899-12-30", "zonder datums"),
	}
	out, err := Normalize(rows, SourceMetavision, Options{})
	require.NoError(t, err)

	byLabel := map[string]ClinicalRecord{}
	for _, r := range out {
		byLabel[r.EncounterID+"/"+r.SectionLabel] = r
	}
	letter := byLabel["1/Ontslagbrief"]
	require.NotNil(t, letter.Timestamp)
	assert.Equal(t, time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC), *letter.Timestamp)
	assert.Nil(t, byLabel["1/Overig"].Timestamp)
	assert.Nil(t, byLabel["2/Ontslagbrief"].Timestamp)
}

func TestFilterByDepartmentPassesUnlistedDepartments(t *testing.T) {
	in := []ClinicalRecord{
		{EncounterID: "1", Department: "CAR", SectionLabel: "Wat dan ook"},
		{EncounterID: "1", Department: "CAR", SectionLabel: "Nog iets"},
	}
	out := FilterByDepartment(in, DefaultFilterTable())
	assert.Equal(t, in, out)
}

func TestFilterByDepartmentAllowList(t *testing.T) {
	in := []ClinicalRecord{
		{Department: "IC", SectionLabel: "Tractus 02 Respiratie"},
		{Department: "IC", SectionLabel: "Vrije notitie"},
		{Department: "NICU", SectionLabel: "Gesprek Item Tekst (ms)"},
	}
	out := FilterByDepartment(in, DefaultFilterTable())
	require.Len(t, out, 2)
	assert.Equal(t, "Tractus 02 Respiratie", out[0].SectionLabel)
	assert.Equal(t, "NICU", out[1].Department)
}

func TestNormalizeMapsDepartmentsAndRenamesLabels(t *testing.T) {
	rows := []RawRow{
		metavisionRow("1", "Intensive Care Centrum", "Tractus 02 Respiratie", "2024-01-02", "beademd"),
		metavisionRow("1", "Intensive Care Centrum", "Vrije notitie", "2024-01-02", "weg"),
	}
	out, err := Normalize(rows, SourceMetavision, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "IC", out[0].Department)
	assert.Equal(t, "Respiratie", out[0].SectionLabel)
}

func TestReplaceTemplatedBlocks(t *testing.T) {
	assert.Equal(t, "\nTITEL\n", ReplaceTemplatedBlocks("$Titel|...#Titel|...#"))
	assert.Equal(t,
		"voor\nRESPIRATIE\nmidden\nCIRCULATIE\nna",
		ReplaceTemplatedBlocks("voor$Respiratie|x#Respiratie|y#midden$Circulatie|a b#Circulatie|c#na"),
	)
	// Mismatched headers are not a templated block.
	assert.Equal(t, "$A|x#B|y#", ReplaceTemplatedBlocks("$A|x#B|y#"))
	assert.Equal(t, "geen blok", ReplaceTemplatedBlocks("geen blok"))
	assert.Equal(t, "\nPIJN\n", ReplaceTemplatedBlocks("$Pijn|score 3 # hoog#Pijn|...#"))
}

type upperDeidentifier struct{}

func (upperDeidentifier) Deidentify(text string) (string, error) {
	return strings.ReplaceAll(text, "Kees", "[PERSOON-1]"), nil
}

type failingDeidentifier struct{}

func (failingDeidentifier) Deidentify(string) (string, error) {
	return "", errors.New("service down")
}

func TestNormalizeDeidentifies(t *testing.T) {
	rows := []RawRow{metavisionRow("1", "CAR", "Beleid", "2024-01-02", "Gesprek met Kees")}
	out, err := Normalize(rows, SourceMetavision, Options{Deidentifier: upperDeidentifier{}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Gesprek met [PERSOON-1]", out[0].Body)

	out, err = Normalize(rows, SourceMetavision, Options{Deidentifier: failingDeidentifier{}})
	require.NoError(t, err)
	assert.Empty(t, out, "rows that cannot be de-identified must not pass through")
}

func TestNormalizeHiXRichText(t *testing.T) {
	rows := []RawRow{
		{
			"TEXT":       `{\rtf1\ansi{\fonttbl{\f0 Arial;}}\f0 Pati\'ebnt stabiel\par Geen koorts}`,
			"NAAM":       "Beloop",
			"DATE":       "2024-02-01T10:00:00",
			"SPECIALISM": "CAR",
		},
		{
			"TEXT":       `{\rtf1 kapot`,
			"NAAM":       "Beloop",
			"DATE":       "2024-02-02T10:00:00",
			"SPECIALISM": "CAR",
		},
	}
	out, err := Normalize(rows, SourceHiX, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1, "undecodable row is dropped, the batch continues")
	assert.Equal(t, DefaultEncounterID, out[0].EncounterID)
	assert.Equal(t, "Patiënt stabiel\nGeen koorts", out[0].Body)
	assert.Nil(t, out[0].LengthOfStay)
}

func TestDecodeRTF(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`plain text`, `plain text`},
		{`{\rtf1\ansi Hallo {\b vet}\line regel}`, "Hallo vet\nregel"},
		{`{\rtf1\uc1 caf\u233?}`, "café"},
		{`{\rtf1{\*\generator Writer;}tekst}`, "tekst"},
		{`{\rtf1 a\{b\}}`, "a{b}"},
	}
	for _, tc := range cases {
		got, err := DecodeRTF(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	_, err := DecodeRTF(`{\rtf1 }}`)
	assert.ErrorIs(t, err, ErrMalformedRTF)
}

func TestDecodeRowsDemoCSV(t *testing.T) {
	in := "enc_id;department;description;date;content;admissionDate;dischargeDate\n" +
		"7;DEMO;Tractus 02 Respiratie;2024-03-01 08:00:00;CPAP;2024-03-01;2024-03-04\n"
	rows, err := DecodeRows(strings.NewReader(in), SourceDemo)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	out, err := Normalize(rows, SourceDemo, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "7", out[0].EncounterID)
	assert.Equal(t, "CPAP", out[0].Body)
}

func TestDecodeRowsHiXEnvelope(t *testing.T) {
	in := `{"ALLPARTS": [{"TEXT": "tekst", "NAAM": "Beloop", "DATE": "2024-02-01", "SPECIALISM": "CAR", "CLASSID": 12}]}`
	rows, err := DecodeRows(strings.NewReader(in), SourceHiX)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Beloop", rows[0]["NAAM"])

	rows, err = DecodeRows(strings.NewReader(` [{"TEXT": "x"}]`), SourceHiX)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestNormalizeEpochMillisDates(t *testing.T) {
	rows, err := DecodeRows(strings.NewReader(`[{"enc_id": 5, "department": "CAR", "description": "Beloop", "date": 1704067200000, "content": "x"}]`), SourceMetavision)
	require.NoError(t, err)
	out, err := Normalize(rows, SourceMetavision, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "5", out[0].EncounterID)
	require.NotNil(t, out[0].Timestamp)
	assert.Equal(t, 2024, out[0].Timestamp.Year())
}
