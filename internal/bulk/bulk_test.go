package bulk

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/discharge-docs/internal/letter"
	"github.com/joelkehle/discharge-docs/internal/pipeline"
	"github.com/joelkehle/discharge-docs/internal/prompt"
	"github.com/joelkehle/discharge-docs/internal/record"
)

type runeCounter struct{}

func (runeCounter) Count(text string) int { return len([]rune(text)) }

type echoCaller struct{}

func (echoCaller) Complete(_ context.Context, _ string, messages []prompt.Message, _ float64) (string, error) {
	file := messages[len(messages)-1].Content
	if strings.Contains(file, "kapot") {
		return "geen json", nil
	}
	return `{"Beloop": "ok"}`, nil
}

func ts(day int) *time.Time {
	t := time.Date(2026, 3, day, 8, 0, 0, 0, time.UTC)
	return &t
}

func bulkRecords() []record.ClinicalRecord {
	return []record.ClinicalRecord{
		{EncounterID: "E1", Department: "IC", SectionLabel: "Beloop", Timestamp: ts(1), Body: "a"},
		{EncounterID: "E2", Department: "NICU", SectionLabel: "Beloop", Timestamp: ts(1), Body: "kapot"},
		{EncounterID: "E3", Department: "PICU", SectionLabel: "Beloop", Timestamp: ts(1), Body: "c"},
		{EncounterID: "E4", Department: "CAR", SectionLabel: "Beloop", Timestamp: ts(1), Body: "d"},
	}
}

type countingCaller struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCaller) Complete(ctx context.Context, deployment string, messages []prompt.Message, temperature float64) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return echoCaller{}.Complete(ctx, deployment, messages, temperature)
}

func newRunnerFor(t *testing.T, deployment string, caller prompt.Caller, workers int) *Runner {
	t.Helper()
	lib, err := prompt.LoadLibrary(prompt.LibraryConfig{})
	require.NoError(t, err)
	b := prompt.NewBuilder(prompt.Config{}, caller, runeCounter{})
	p := pipeline.New(b, lib, pipeline.Settings{Deployment: deployment, Temperature: 0.2}, zerolog.Nop())
	return NewRunner(p, workers, zerolog.Nop())
}

func newRunner(t *testing.T, workers int) *Runner {
	t.Helper()
	return newRunnerFor(t, "aiva-gpt4-new", echoCaller{}, workers)
}

func TestGenerateKeepsEncounterOrderAndOutcomes(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	rows, err := newRunner(t, 3).Generate(context.Background(), bulkRecords(), Options{
		Skip: []string{"E4"},
		Progress: func(done, total int) {
			mu.Lock()
			calls++
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 3, calls)

	assert.Equal(t, "E1", rows[0].EncounterID)
	assert.Equal(t, letter.OutcomeSuccess, rows[0].Outcome)
	assert.JSONEq(t, `{"Beloop":"ok"}`, rows[0].Letter)

	assert.Equal(t, letter.OutcomeJSONError, rows[1].Outcome)
	assert.Contains(t, rows[1].Letter, letter.FallbackHeader)

	assert.Equal(t, "E3", rows[2].EncounterID)
	assert.Equal(t, letter.OutcomeSuccess, rows[2].Outcome)
}

func TestGenerateUnknownDeploymentFailsBeforeCalls(t *testing.T) {
	caller := &countingCaller{}
	rows, err := newRunnerFor(t, "no-such-deployment", caller, 2).Generate(context.Background(), bulkRecords(), Options{})
	require.ErrorIs(t, err, record.ErrConfiguration)
	assert.Nil(t, rows)
	assert.Zero(t, caller.calls)
}

func TestGenerateUnknownDepartmentIsNotAFallbackRow(t *testing.T) {
	records := append(bulkRecords(), record.ClinicalRecord{
		EncounterID: "E5", Department: "Onbekend", SectionLabel: "Beloop", Timestamp: ts(2), Body: "e",
	})
	rows, err := newRunner(t, 1).Generate(context.Background(), records, Options{})
	require.ErrorIs(t, err, record.ErrConfiguration)
	assert.Nil(t, rows)
}

func TestGeneratePreviousRowsAreKeptAndSkipped(t *testing.T) {
	prev := []Row{{EncounterID: "E1", Department: "IC", Outcome: letter.OutcomeSuccess, Letter: `{"Beloop":"eerder"}`}}
	rows, err := newRunner(t, 1).Generate(context.Background(), bulkRecords(), Options{Previous: prev, Skip: []string{"E2", "E3"}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, `{"Beloop":"eerder"}`, rows[0].Letter)
	assert.Equal(t, "E4", rows[1].EncounterID)
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newRunner(t, 2).Generate(ctx, bulkRecords(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkbookCanBeResumed(t *testing.T) {
	at := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	rows := []Row{
		{EncounterID: "E1", Department: "IC", Outcome: letter.OutcomeSuccess, Tokens: 1200, Letter: `{"Beloop":"ok"}`, GeneratedAt: at},
		{EncounterID: "E2", Department: "NICU", Outcome: letter.OutcomeLengthError, Tokens: 130000, Letter: letter.Failure(letter.OutcomeLengthError, at).JSON(), GeneratedAt: at},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, rows))

	back, err := ReadWorkbook(&buf)
	require.NoError(t, err)
	assert.Equal(t, rows, back)
}
