package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/joelkehle/discharge-docs/internal/letter"
)

const (
	msgNoLetter = "Er is geen ontslagbrief in de database gevonden voor deze patiënt. " +
		"Dit komt voor bij patiënten in hun eerste 24 uur van de opname. " +
		"Indien de patiënt nog is opgenomen, zal morgen een AI-ontslagbrief worden gegenereerd.\n\n"
	msgNoSuccess        = "Er is geen succesvol gegenereerde ontslagbrief in de database gevonden voor deze patiënt."
	msgTooLongNoSuccess = "Dit komt doordat het patiëntendossier te lang is geworden voor het AI model.\n\n"
	msgTooLongStale     = "Dit komt doordat het patientendossier te lang is geworden voor het AI model."
	msgContact          = "Als dit toch onverwachts is, neem dan contact op met de afdeling Digital Health via ai-support@umcutrecht.nl"
)

// Retrieval is what a clinician sees when asking for a stored letter.
type Retrieval struct {
	Message   string
	Success   bool
	DocID     string
	PatientID string
	DaysOld   *int
	Letter    letter.GeneratedLetter
}

// ComposeRetrieval builds the message for letters ordered newest first.
// The newest successful letter that has not been removed is shown, with a
// warning when it was not generated today.
func ComposeRetrieval(letters []StoredLetter, now time.Time) Retrieval {
	if len(letters) == 0 {
		return Retrieval{Message: msgNoLetter + msgContact}
	}
	latestTooLong := letters[0].Outcome == letter.OutcomeLengthError

	var found *StoredLetter
	for i := range letters {
		if letters[i].Outcome == letter.OutcomeSuccess && !letters[i].Removed {
			found = &letters[i]
			break
		}
	}
	if found == nil {
		var b strings.Builder
		b.WriteString(msgNoSuccess)
		if latestTooLong {
			b.WriteString(msgTooLongNoSuccess)
		}
		b.WriteString(msgContact)
		return Retrieval{Message: b.String()}
	}

	generated := found.GeneratedAt.In(now.Location())
	days := daysBetween(generated, now)

	var b strings.Builder
	fmt.Fprintf(&b, "Deze brief is door AI gegenereerd voor patiëntnummer: %s op: %s\n\n",
		found.PatientID, generated.Format("02-01-2006 15:04"))
	if days > 0 {
		if days > 7 {
			fmt.Fprintf(&b, "NB Let erop dat deze AI-brief meer dan een week geleden is gegenereerd, namelijk %d dagen geleden.\n", days)
		} else {
			fmt.Fprintf(&b, "NB Let erop dat deze AI-brief niet afgelopen nacht is gegenereerd, maar %d dagen geleden.\n", days)
		}
		if latestTooLong {
			b.WriteString(msgTooLongStale)
		}
	}
	l := letter.Success(found.Sections, found.GeneratedAt)
	b.WriteString("\n\n")
	b.WriteString(letter.PlainText(l, letter.Options{}))

	return Retrieval{
		Message:   letter.ApplyFilters(b.String()),
		Success:   true,
		DocID:     found.DocID,
		PatientID: found.PatientID,
		DaysOld:   &days,
		Letter:    l,
	}
}

// daysBetween counts calendar days from a to b.
func daysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
