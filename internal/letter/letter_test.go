package letter

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseKeepsOrderAndValues(t *testing.T) {
	raw := "```json\n{\"Beloop\": \"stabiel\", \"Medicatie\": \"paracetamol\", \"Aantal\": 3}\n```"
	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := Sections{{"Beloop", "stabiel"}, {"Medicatie", "paracetamol"}, {"Aantal", "3"}}
	if len(got) != len(want) {
		t.Fatalf("expected %d sections, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("section %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestParseLegacyListShape(t *testing.T) {
	got, err := Parse(`[{"Categorie": "Test","Beloop tijdens opname": "Test"}, {"Categorie": "Respiratie","Beloop tijdens opname": "CPAP"}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[1].Header != "Respiratie" || got[1].Body != "CPAP" {
		t.Fatalf("unexpected sections: %+v", got)
	}
}

func TestParseDuplicateKeysKeepFirstPositionLastValue(t *testing.T) {
	got, err := Parse(`{"A": "1", "B": "2", "A": "3"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[0].Header != "A" || got[0].Body != "3" {
		t.Fatalf("unexpected sections: %+v", got)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "```json\n```", "not json", `"just a string"`, `[1, 2]`} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
	if _, err := Parse("  "); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}

func TestStripCodeFencesRemovesAllMarkers(t *testing.T) {
	got := StripCodeFences("```json\n{\"a\":1}\n```")
	if got != `{"a":1}` {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestFailureCarriesFallbackSection(t *testing.T) {
	at := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	cases := map[Outcome]string{
		OutcomeLengthError:  MessageTooLong,
		OutcomeJSONError:    MessageGenerationFailed,
		OutcomeGeneralError: MessageGenerationFailed,
	}
	for outcome, msg := range cases {
		l := Failure(outcome, at)
		if l.Outcome != outcome {
			t.Fatalf("outcome: got %s want %s", l.Outcome, outcome)
		}
		if len(l.Sections) != 1 || l.Sections[0].Header != FallbackHeader || l.Sections[0].Body != msg {
			t.Fatalf("unexpected fallback for %s: %+v", outcome, l.Sections)
		}
	}
	if got := Failure(OutcomeSuccess, at); got.Outcome != OutcomeGeneralError {
		t.Fatalf("success is not a failure outcome, got %s", got.Outcome)
	}
}

func TestSuccessCopiesSections(t *testing.T) {
	in := Sections{{"A", "1"}}
	l := Success(in, time.Now())
	in[0].Body = "changed"
	if l.Sections[0].Body != "1" {
		t.Fatal("letter sections must not alias the caller's slice")
	}
}

func TestFormatPlain(t *testing.T) {
	l := Success(Sections{{"Beloop", "mr. X is 5 [LEEFTIJD-1]-jarige"}, {"Medicatie", "geen"}}, time.Date(2024, 5, 6, 7, 8, 0, 0, time.UTC))
	r, err := Format(l, ModePlain, Options{ApplyFilters: true})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := "Beloop\nmr. X is 5\n\nMedicatie\ngeen\n\n"
	if r.Text != want {
		t.Fatalf("got %q want %q", r.Text, want)
	}

	r, err = Format(l, ModePlain, Options{IncludeTimestamp: true})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.HasPrefix(r.Text, "Deze brief is door AI gegenereerd op: 06-05-2024 07:08\n\n\n") {
		t.Fatalf("missing timestamp prefix: %q", r.Text)
	}
	if !strings.Contains(r.Text, "[LEEFTIJD-1]-jarige") {
		t.Fatal("filters must only apply when requested")
	}
}

func TestFormatMarkdownBlocks(t *testing.T) {
	l := Success(Sections{{"Beloop", "mr. X is 5 [LEEFTIJD-1]-jarige"}, {"Plan", "- controle\n- ontslag"}}, time.Now())
	r, err := Format(l, ModeMarkdown, Options{ApplyFilters: true, IncludeTimestamp: true})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if len(r.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(r.Blocks))
	}
	if r.Blocks[0].Header != "Beloop" || r.Blocks[0].Body != "mr. X is 5" {
		t.Fatalf("unexpected first block: %+v", r.Blocks[0])
	}
	if !strings.Contains(r.Blocks[1].HTML, "<li>controle</li>") {
		t.Fatalf("expected list html, got %q", r.Blocks[1].HTML)
	}
	if r.Prefix == "" {
		t.Fatal("expected timestamp prefix")
	}
}

func TestFormatUnknownMode(t *testing.T) {
	_, err := Format(Success(nil, time.Now()), Mode("pdf"), Options{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestFilterRemovesBeloopHeaderInsideText(t *testing.T) {
	got := ApplyFilters("intro\n\nBeloop\ntekst")
	if got != "intro\n\ntekst" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestFormatPlainFiltersEachBody(t *testing.T) {
	l := Success(Sections{{"Samenvatting", "opname wegens RSV"}, {"Beloop", "stabiel"}}, time.Now())
	plain, err := Format(l, ModePlain, Options{ApplyFilters: true})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := "Samenvatting\nopname wegens RSV\n\nBeloop\nstabiel\n\n"
	if plain.Text != want {
		t.Fatalf("got %q want %q", plain.Text, want)
	}
	md, err := Format(l, ModeMarkdown, Options{ApplyFilters: true})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	for i, b := range md.Blocks {
		if b.Header != l.Sections[i].Header {
			t.Fatalf("markdown block %d header %q, plain kept %q", i, b.Header, l.Sections[i].Header)
		}
	}
}

func TestSectionsUnmarshalKeepsBodyVerbatim(t *testing.T) {
	var s Sections
	if err := json.Unmarshal([]byte("{\"Beloop\":\"zie ```json blok\"}"), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body, _ := s.Get("Beloop"); body != "zie ```json blok" {
		t.Fatalf("body changed: %q", body)
	}
	if err := json.Unmarshal([]byte(`[{"Categorie":"A","Beloop tijdens opname":"x"}]`), &s); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for list shape, got %v", err)
	}
}

func TestSectionsJSONRoundTrip(t *testing.T) {
	raw := `{"Z":"laatste","A":"eerste"}`
	s, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != raw {
		t.Fatalf("order lost: %s", b)
	}
	var back Sections
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != 2 || back[0].Header != "Z" {
		t.Fatalf("unexpected: %+v", back)
	}
}

func TestFormatOfParseReproducesMapping(t *testing.T) {
	raw := `{"Beloop": "stabiel", "Plan": "naar huis"}`
	s, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r, err := Format(Success(s, time.Now()), ModePlain, Options{})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if r.Text != "Beloop\nstabiel\n\nPlan\nnaar huis\n\n" {
		t.Fatalf("unexpected: %q", r.Text)
	}
}
