package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLibraryEmbedded(t *testing.T) {
	lib, err := LoadLibrary(LibraryConfig{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, dept := range []string{"NICU", "IC", "CAR", "PICU", "DEMO", "Neonatologie", "Intensive Care Centrum"} {
		req, err := lib.Request(dept)
		if err != nil {
			t.Fatalf("%s: %v", dept, err)
		}
		if req.System == "" || req.General == "" || req.Department == "" {
			t.Fatalf("%s: incomplete request %+v", dept, req)
		}
	}
	demo, _ := lib.Request("DEMO")
	nicu, _ := lib.Request("NICU")
	if demo.Department != nicu.Department {
		t.Fatal("DEMO should use the NICU template")
	}
	ic, _ := lib.Request("IC")
	if ic.PostProcessing == "" {
		t.Fatal("IC ships a post-processing prompt")
	}
	if nicu.PostProcessing != "" {
		t.Fatal("NICU has no post-processing prompt")
	}
	iter, err := lib.IterativeRequest("CAR")
	if err != nil {
		t.Fatalf("iterative: %v", err)
	}
	car, _ := lib.Request("CAR")
	if iter.General == car.General {
		t.Fatal("iterative request should use the iterative user prompt")
	}
}

func TestLibraryUnknownDepartment(t *testing.T) {
	lib, err := LoadLibrary(LibraryConfig{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := lib.Request("KNO"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoadLibraryFromDirMissingTemplate(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{systemPromptFile, userPromptFile, iterativePromptFile, "CAR" + templateSuffix} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	lib, err := LoadLibrary(LibraryConfig{Dir: dir, Departments: []string{"CAR"}, Aliases: map[string]string{}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	req, err := lib.Request("CAR")
	if err != nil || req.Department != "CAR"+templateSuffix {
		t.Fatalf("unexpected request %+v, %v", req, err)
	}

	_, err = LoadLibrary(LibraryConfig{Dir: dir, Departments: []string{"NICU"}, Aliases: map[string]string{}})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for missing template, got %v", err)
	}
}
