package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/joelkehle/discharge-docs/internal/record"
)

//go:embed prompts/*.txt
var embeddedPrompts embed.FS

const (
	systemPromptFile    = "system_prompt.txt"
	userPromptFile      = "user_prompt.txt"
	iterativePromptFile = "user_prompt_iterative.txt"
	templateSuffix      = "_template_prompt.txt"
	postProcessSuffix   = "_post_processing_prompt.txt"
)

// DefaultDepartments have a template prompt shipped with the binary.
var DefaultDepartments = []string{"NICU", "IC", "CAR", "PICU"}

// DefaultAliases lets departments share another department's template.
var DefaultAliases = map[string]string{"DEMO": "NICU"}

type LibraryConfig struct {
	// Dir overrides the embedded prompt files when set.
	Dir         string
	Departments []string
	Aliases     map[string]string
}

// Library holds every prompt fragment, loaded once at start-up.
type Library struct {
	system         string
	general        string
	iterative      string
	templates      map[string]string
	postProcessing map[string]string
	aliases        map[string]string
}

func LoadLibrary(cfg LibraryConfig) (*Library, error) {
	var fsys fs.FS
	if cfg.Dir != "" {
		fsys = os.DirFS(cfg.Dir)
	} else {
		sub, err := fs.Sub(embeddedPrompts, "prompts")
		if err != nil {
			return nil, err
		}
		fsys = sub
	}
	departments := cfg.Departments
	if len(departments) == 0 {
		departments = DefaultDepartments
	}
	aliases := cfg.Aliases
	if aliases == nil {
		aliases = DefaultAliases
	}

	lib := &Library{
		templates:      map[string]string{},
		postProcessing: map[string]string{},
		aliases:        map[string]string{},
	}
	var err error
	if lib.system, err = readPrompt(fsys, systemPromptFile); err != nil {
		return nil, err
	}
	if lib.general, err = readPrompt(fsys, userPromptFile); err != nil {
		return nil, err
	}
	if lib.iterative, err = readPrompt(fsys, iterativePromptFile); err != nil {
		return nil, err
	}
	for _, d := range departments {
		code := strings.ToUpper(strings.TrimSpace(d))
		if lib.templates[code], err = readPrompt(fsys, code+templateSuffix); err != nil {
			return nil, err
		}
		post, err := fs.ReadFile(fsys, code+postProcessSuffix)
		switch {
		case err == nil:
			lib.postProcessing[code] = string(post)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read %s: %w", code+postProcessSuffix, err)
		}
	}
	for from, to := range aliases {
		to = strings.ToUpper(to)
		if _, ok := lib.templates[to]; !ok {
			return nil, fmt.Errorf("%w: alias %s points to unknown department %s", ErrConfiguration, from, to)
		}
		lib.aliases[strings.ToUpper(from)] = to
	}
	return lib, nil
}

func readPrompt(fsys fs.FS, name string) (string, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: prompt file %s not found", ErrConfiguration, name)
		}
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(b), nil
}

func (l *Library) resolve(department string) (string, error) {
	code := strings.ToUpper(record.DepartmentCode(strings.TrimSpace(department)))
	if alias, ok := l.aliases[code]; ok {
		code = alias
	}
	if _, ok := l.templates[code]; !ok {
		return "", fmt.Errorf("%w: no template prompt for department %q", ErrConfiguration, department)
	}
	return code, nil
}

// Request returns the prompt fragments for a department. The patient
// file is left for the caller to fill in.
func (l *Library) Request(department string) (Request, error) {
	code, err := l.resolve(department)
	if err != nil {
		return Request{}, err
	}
	return Request{
		System:         l.system,
		General:        l.general,
		Department:     l.templates[code],
		PostProcessing: l.postProcessing[code],
	}, nil
}

// IterativeRequest is Request with the day-by-day user prompt.
func (l *Library) IterativeRequest(department string) (Request, error) {
	req, err := l.Request(department)
	if err != nil {
		return Request{}, err
	}
	req.General = l.iterative
	return req, nil
}

// Departments lists the department codes with a template, aliases included.
func (l *Library) Departments() []string {
	out := make([]string, 0, len(l.templates)+len(l.aliases))
	for d := range l.templates {
		out = append(out, d)
	}
	for d := range l.aliases {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
