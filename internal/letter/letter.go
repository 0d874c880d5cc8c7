// Package letter holds the generated discharge letter value and its
// parsing and rendering rules.
package letter

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// Outcome classifies the result of one generation attempt.
type Outcome string

const (
	OutcomeSuccess      Outcome = "Success"
	OutcomeLengthError  Outcome = "LengthError"
	OutcomeJSONError    Outcome = "JSONError"
	OutcomeGeneralError Outcome = "GeneralError"
)

// FallbackHeader is the single section header used when a letter could not
// be generated.
const FallbackHeader = "Geen Vooraf Gegenereerde Ontslagbrief Beschikbaar"

const (
	MessageTooLong          = "De omvang van het patientendossier is te groot geworden voor het AI model. Daardoor kan er geen ontslagbrief worden gegenereerd. Schrijf de ontslagbrief op de oude manier."
	MessageGenerationFailed = "Er is een fout opgetreden bij het genereren van de ontslagbrief met AI. Schrijf de ontslagbrief op de oude manier."
)

// Valid reports whether o is one of the four known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeLengthError, OutcomeJSONError, OutcomeGeneralError:
		return true
	}
	return false
}

// Message is the clinician-facing text shown in place of a failed letter.
func (o Outcome) Message() string {
	switch o {
	case OutcomeSuccess:
		return ""
	case OutcomeLengthError:
		return MessageTooLong
	default:
		return MessageGenerationFailed
	}
}

type Section struct {
	Header string
	Body   string
}

// Sections is an ordered header to body mapping. It marshals as a JSON
// object whose key order matches the slice order.
type Sections []Section

func (s Sections) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, sec := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(sec.Header)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(sec.Body)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads stored letters verbatim: unlike Parse it neither
// strips code fences nor accepts the list shape.
func (s *Sections) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return ErrMalformed
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return ErrMalformed
	}
	*s = objectSections(root)
	return nil
}

// Get returns the body stored under header.
func (s Sections) Get(header string) (string, bool) {
	for _, sec := range s {
		if sec.Header == header {
			return sec.Body, true
		}
	}
	return "", false
}

// GeneratedLetter is the result of one generation attempt. A failed
// attempt carries exactly one fallback section.
type GeneratedLetter struct {
	Outcome     Outcome
	Sections    Sections
	GeneratedAt time.Time
}

// Success builds a successful letter from the parsed sections.
func Success(sections Sections, at time.Time) GeneratedLetter {
	cp := make(Sections, len(sections))
	copy(cp, sections)
	return GeneratedLetter{Outcome: OutcomeSuccess, Sections: cp, GeneratedAt: at}
}

// Failure builds the fallback letter for a non-success outcome.
func Failure(outcome Outcome, at time.Time) GeneratedLetter {
	if outcome == OutcomeSuccess || !outcome.Valid() {
		outcome = OutcomeGeneralError
	}
	return GeneratedLetter{
		Outcome:     outcome,
		Sections:    Sections{{Header: FallbackHeader, Body: outcome.Message()}},
		GeneratedAt: at,
	}
}

func (l GeneratedLetter) OK() bool {
	return l.Outcome == OutcomeSuccess
}

// JSON returns the section mapping as a JSON object string.
func (l GeneratedLetter) JSON() string {
	b, _ := l.Sections.MarshalJSON()
	return string(b)
}
