package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/discharge-docs/internal/bulk"
	"github.com/joelkehle/discharge-docs/internal/letter"
	"github.com/joelkehle/discharge-docs/internal/prompt"
	"github.com/joelkehle/discharge-docs/internal/record"
)

const demoExport = "enc_id;department;description;date;content;admissionDate;dischargeDate\n" +
	"7;DEMO;Tractus 02 Respiratie;2024-03-01 08:00:00;CPAP;2024-03-01;2024-03-04\n" +
	"7;DEMO;Tractus 02 Respiratie;2024-03-02 08:00:00;Low flow;2024-03-01;2024-03-04\n" +
	"8;DEMO;Tractus 02 Respiratie;2024-03-05 08:00:00;Kamerlucht;2024-03-05;2024-03-09\n"

type runeCounter struct{}

func (runeCounter) Count(text string) int { return len([]rune(text)) }

type stubCaller struct {
	mu    sync.Mutex
	calls int
}

func (s *stubCaller) Complete(_ context.Context, _ string, _ []prompt.Message, _ float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return `{"Beloop": "Goed hersteld."}`, nil
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const baseConfig = "log_level = \"error\"\n\n[database]\ndriver = \"sqlite\"\n"

func execute(t *testing.T, rt *runtime, args ...string) (string, error) {
	t.Helper()
	return executeWithConfig(t, rt, baseConfig, args...)
}

func executeWithConfig(t *testing.T, rt *runtime, config string, args ...string) (string, error) {
	t.Helper()
	cfg := writeTemp(t, "config.toml", config)
	cmd := newRootCmd(rt)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNormalizePrintsPatientFiles(t *testing.T) {
	in := writeTemp(t, "export.csv", demoExport)
	out, err := execute(t, &runtime{}, "normalize", "--source", "demo", "--file", in, "--patient-file")
	require.NoError(t, err)
	assert.Contains(t, out, "=== 7 ===")
	assert.Contains(t, out, "=== 8 ===")
	assert.Contains(t, out, "Low flow")
	assert.Less(t, strings.Index(out, "CPAP"), strings.Index(out, "Low flow"))
}

func TestNormalizeReadsStdin(t *testing.T) {
	out, err := execute(t, &runtime{stdin: strings.NewReader(demoExport)}, "normalize", "--source", "demo", "--encounter", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "Kamerlucht")
	assert.NotContains(t, out, "CPAP")
}

func TestNormalizeUnknownSource(t *testing.T) {
	_, err := execute(t, &runtime{stdin: strings.NewReader("")}, "normalize", "--source", "epic")
	require.Error(t, err)
}

func TestGenerateNeedsEncounterForMultiEncounterExport(t *testing.T) {
	in := writeTemp(t, "export.csv", demoExport)
	caller := &stubCaller{}
	_, err := execute(t, &runtime{caller: caller, counter: runeCounter{}}, "generate", "--source", "demo", "--file", in)
	require.ErrorIs(t, err, letter.ErrInvalidArgument)
	assert.Zero(t, caller.calls)
}

func TestGeneratePrintsLetter(t *testing.T) {
	in := writeTemp(t, "export.csv", demoExport)
	caller := &stubCaller{}
	out, err := execute(t, &runtime{caller: caller, counter: runeCounter{}}, "generate", "--source", "demo", "--file", in, "--encounter", "7")
	require.NoError(t, err)
	assert.Equal(t, 1, caller.calls)
	assert.Contains(t, out, "Deze brief is door AI gegenereerd op:")
	assert.Contains(t, out, "Goed hersteld.")
}

func TestGenerateUnknownDeploymentFailsFast(t *testing.T) {
	in := writeTemp(t, "export.csv", demoExport)
	caller := &stubCaller{}
	config := baseConfig + "\n[llm.deployments]\nacc = \"onbekend\"\n"
	_, err := executeWithConfig(t, &runtime{caller: caller, counter: runeCounter{}}, config,
		"generate", "--source", "demo", "--file", in, "--encounter", "7")
	require.ErrorIs(t, err, record.ErrConfiguration)
	assert.Zero(t, caller.calls)
}

func TestBulkWritesWorkbookAndResumes(t *testing.T) {
	in := writeTemp(t, "export.csv", demoExport)
	outPath := filepath.Join(t.TempDir(), "bulk.xlsx")
	caller := &stubCaller{}
	rt := &runtime{caller: caller, counter: runeCounter{}}

	_, err := execute(t, rt, "bulk", "--source", "demo", "--file", in, "--out", outPath, "--workers", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, caller.calls)

	_, err = execute(t, rt, "bulk", "--source", "demo", "--file", in, "--out", outPath, "--resume")
	require.NoError(t, err)
	assert.Equal(t, 2, caller.calls, "resumed run must skip finished encounters")

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := bulk.ReadWorkbook(f)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "7", rows[0].EncounterID)
	assert.Equal(t, letter.OutcomeSuccess, rows[1].Outcome)
}
