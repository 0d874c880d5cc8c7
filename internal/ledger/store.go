// Package ledger records inbound requests, generated letters, retrievals
// and feedback in SQL. SQLite is the default backend; a postgres DSN
// selects lib/pq.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/discharge-docs/internal/letter"
)

// timeLayout keeps stored timestamps lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// FeedbackQuestion is the question clinicians answer with ja/nee.
const FeedbackQuestion = "Heeft deze AI brief jou geholpen?"

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	request_id    TEXT PRIMARY KEY,
	endpoint      TEXT NOT NULL,
	api_version   TEXT NOT NULL DEFAULT '',
	started_at    TEXT NOT NULL,
	response_code INTEGER NOT NULL DEFAULT 500,
	runtime_ms    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS encounters (
	encounter_id   TEXT PRIMARY KEY,
	enc_id         TEXT NOT NULL DEFAULT '',
	patient_id     TEXT NOT NULL DEFAULT '',
	department     TEXT NOT NULL DEFAULT '',
	admission_date TEXT
);

CREATE TABLE IF NOT EXISTS generated_docs (
	doc_id       TEXT PRIMARY KEY,
	request_id   TEXT NOT NULL,
	encounter_id TEXT NOT NULL,
	letter       TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	outcome      TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	removed_at   TEXT
);

CREATE TABLE IF NOT EXISTS request_retrieves (
	request_id TEXT PRIMARY KEY,
	enc_id     TEXT NOT NULL,
	success    INTEGER NOT NULL DEFAULT 0,
	doc_id     TEXT,
	days_old   INTEGER
);

CREATE TABLE IF NOT EXISTS request_feedback (
	request_id TEXT PRIMARY KEY,
	enc_id     TEXT NOT NULL,
	question   TEXT NOT NULL,
	answer     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_encounters_enc_id ON encounters (enc_id);
CREATE INDEX IF NOT EXISTS idx_generated_docs_encounter ON generated_docs (encounter_id, created_at);
`

type Store struct {
	db      *sqlx.DB
	now     func() time.Time
	version string
}

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithVersion stamps every request row with the service version.
func WithVersion(v string) Option { return func(s *Store) { s.version = v } }

// Open connects to driver ("sqlite" or "postgres") and creates the schema.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case "sqlite":
		db, err = sqlx.Open("sqlite", dsn+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	case "postgres":
		db, err = sqlx.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an existing connection without touching the schema.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.db.Rebind(query), args...)
}

type Request struct {
	ID        string
	Endpoint  string
	StartedAt time.Time
}

// BeginRequest stores a request row with a 500 response code; FinishRequest
// overwrites it once the handler completes.
func (s *Store) BeginRequest(ctx context.Context, endpoint string) (Request, error) {
	req := Request{ID: uuid.NewString(), Endpoint: endpoint, StartedAt: s.now()}
	_, err := s.exec(ctx,
		`INSERT INTO requests (request_id, endpoint, api_version, started_at, response_code, runtime_ms) VALUES (?, ?, ?, ?, 500, 0)`,
		req.ID, req.Endpoint, s.version, formatTime(req.StartedAt))
	if err != nil {
		return Request{}, fmt.Errorf("insert request: %w", err)
	}
	return req, nil
}

func (s *Store) FinishRequest(ctx context.Context, req Request, code int) error {
	runtime := s.now().Sub(req.StartedAt).Milliseconds()
	if _, err := s.exec(ctx,
		`UPDATE requests SET response_code = ?, runtime_ms = ? WHERE request_id = ?`,
		code, runtime, req.ID); err != nil {
		return fmt.Errorf("finish request %s: %w", req.ID, err)
	}
	return nil
}

type Encounter struct {
	EncID         string
	PatientID     string
	Department    string
	AdmissionDate *time.Time
}

// UpsertEncounter returns the row id for e.EncID, inserting it when unseen.
// Encounters without an EncID (on-demand requests) always get a new row.
func (s *Store) UpsertEncounter(ctx context.Context, e Encounter) (string, error) {
	if e.EncID != "" {
		var id string
		err := s.db.GetContext(ctx, &id, s.db.Rebind(`SELECT encounter_id FROM encounters WHERE enc_id = ?`), e.EncID)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("lookup encounter %s: %w", e.EncID, err)
		}
	}
	id := uuid.NewString()
	var admission any
	if e.AdmissionDate != nil {
		admission = formatTime(*e.AdmissionDate)
	}
	if _, err := s.exec(ctx,
		`INSERT INTO encounters (encounter_id, enc_id, patient_id, department, admission_date) VALUES (?, ?, ?, ?, ?)`,
		id, e.EncID, e.PatientID, e.Department, admission); err != nil {
		return "", fmt.Errorf("insert encounter: %w", err)
	}
	return id, nil
}

type Generation struct {
	RequestID   string
	EncounterID string
	Letter      letter.GeneratedLetter
	InputTokens int
}

// RecordGeneration stores one generation attempt. Only successful letters
// carry a body.
func (s *Store) RecordGeneration(ctx context.Context, g Generation) (string, error) {
	id := uuid.NewString()
	var body any
	if g.Letter.OK() {
		body = g.Letter.JSON()
	}
	created := g.Letter.GeneratedAt
	if created.IsZero() {
		created = s.now()
	}
	if _, err := s.exec(ctx,
		`INSERT INTO generated_docs (doc_id, request_id, encounter_id, letter, input_tokens, outcome, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, g.RequestID, g.EncounterID, body, g.InputTokens, string(g.Letter.Outcome), formatTime(created)); err != nil {
		return "", fmt.Errorf("insert generated doc: %w", err)
	}
	return id, nil
}

// PruneOutdated clears every letter of the encounter except the two newest
// successful ones.
func (s *Store) PruneOutdated(ctx context.Context, encounterID string) (int64, error) {
	res, err := s.exec(ctx, `
UPDATE generated_docs SET letter = NULL, removed_at = ?
WHERE encounter_id = ? AND removed_at IS NULL AND doc_id NOT IN (
	SELECT doc_id FROM generated_docs
	WHERE encounter_id = ? AND outcome = ? AND removed_at IS NULL
	ORDER BY created_at DESC, doc_id DESC
	LIMIT 2
)`, formatTime(s.now()), encounterID, encounterID, string(letter.OutcomeSuccess))
	if err != nil {
		return 0, fmt.Errorf("prune encounter %s: %w", encounterID, err)
	}
	return res.RowsAffected()
}

// RemoveOlderThan clears letters generated before cutoff.
func (s *Store) RemoveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE generated_docs SET letter = NULL, removed_at = ? WHERE created_at < ? AND removed_at IS NULL`,
		formatTime(s.now()), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("remove letters: %w", err)
	}
	return res.RowsAffected()
}

// StoredLetter is one generation attempt as read back for retrieval.
type StoredLetter struct {
	DocID       string
	EncID       string
	PatientID   string
	Outcome     letter.Outcome
	Sections    letter.Sections
	Removed     bool
	InputTokens int
	GeneratedAt time.Time
}

type docRow struct {
	DocID       string         `db:"doc_id"`
	Outcome     string         `db:"outcome"`
	Letter      sql.NullString `db:"letter"`
	InputTokens int            `db:"input_tokens"`
	CreatedAt   string         `db:"created_at"`
	EncID       string         `db:"enc_id"`
	PatientID   string         `db:"patient_id"`
}

// LettersForEncounter returns every attempt for encID, newest first.
func (s *Store) LettersForEncounter(ctx context.Context, encID string) ([]StoredLetter, error) {
	var rows []docRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
SELECT d.doc_id, d.outcome, d.letter, d.input_tokens, d.created_at, e.enc_id, e.patient_id
FROM generated_docs d
JOIN encounters e ON d.encounter_id = e.encounter_id
WHERE e.enc_id = ?
ORDER BY d.created_at DESC, d.doc_id DESC`), encID)
	if err != nil {
		return nil, fmt.Errorf("select letters for %s: %w", encID, err)
	}
	out := make([]StoredLetter, 0, len(rows))
	for _, r := range rows {
		created, err := parseTime(r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("doc %s: %w", r.DocID, err)
		}
		sl := StoredLetter{
			DocID:       r.DocID,
			EncID:       r.EncID,
			PatientID:   r.PatientID,
			Outcome:     letter.Outcome(r.Outcome),
			Removed:     !r.Letter.Valid,
			InputTokens: r.InputTokens,
			GeneratedAt: created,
		}
		if r.Letter.Valid {
			if err := json.Unmarshal([]byte(r.Letter.String), &sl.Sections); err != nil {
				return nil, fmt.Errorf("doc %s letter: %w", r.DocID, err)
			}
		}
		out = append(out, sl)
	}
	return out, nil
}

// Retrieve composes the retrieval message for encID.
func (s *Store) Retrieve(ctx context.Context, encID string) (Retrieval, error) {
	letters, err := s.LettersForEncounter(ctx, encID)
	if err != nil {
		return Retrieval{}, err
	}
	return ComposeRetrieval(letters, s.now()), nil
}

func (s *Store) RecordRetrieve(ctx context.Context, requestID, encID string, r Retrieval) error {
	var docID, daysOld any
	if r.DocID != "" {
		docID = r.DocID
	}
	if r.DaysOld != nil {
		daysOld = *r.DaysOld
	}
	success := 0
	if r.Success {
		success = 1
	}
	if _, err := s.exec(ctx,
		`INSERT INTO request_retrieves (request_id, enc_id, success, doc_id, days_old) VALUES (?, ?, ?, ?, ?)`,
		requestID, encID, success, docID, daysOld); err != nil {
		return fmt.Errorf("insert retrieve: %w", err)
	}
	return nil
}

type Feedback struct {
	EncID    string
	Question string
	Answer   string
}

// ParseFeedback splits the "{enc}_{answer}" path value.
func ParseFeedback(s string) (Feedback, error) {
	enc, answer, ok := strings.Cut(s, "_")
	if !ok || enc == "" || answer == "" {
		return Feedback{}, fmt.Errorf("%w: feedback %q is not of the form <enc>_<answer>", letter.ErrInvalidArgument, s)
	}
	if i := strings.IndexByte(answer, '_'); i >= 0 {
		answer = answer[:i]
	}
	return Feedback{EncID: enc, Question: FeedbackQuestion, Answer: answer}, nil
}

func (s *Store) RecordFeedback(ctx context.Context, requestID string, fb Feedback) error {
	if _, err := s.exec(ctx,
		`INSERT INTO request_feedback (request_id, enc_id, question, answer) VALUES (?, ?, ?, ?)`,
		requestID, fb.EncID, fb.Question, fb.Answer); err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
