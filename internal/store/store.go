// Package store persists runs, screens, steps, visits, and the
// exploration journal in a single-file embedded database. Rows are
// committed per step so a partially completed run is always queryable.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/droidcrawl/droidcrawl/pkg/protocol"
)

// Store is the per-run persistence layer. All writes are idempotent on
// retry: unique constraints on (run_id, composite_hash) and
// (run_id, step_number) make duplicate inserts no-ops.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the session database and ensures the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The loop is the only writer; a single connection keeps sqlite
	// happy under WAL.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) ensureSchema() error {
	schema := `
	PRAGMA journal_mode = WAL;
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_package TEXT NOT NULL,
		app_activity TEXT,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		status TEXT NOT NULL,
		meta_json TEXT
	);

	CREATE TABLE IF NOT EXISTS screens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		composite_hash TEXT NOT NULL,
		activity TEXT,
		screenshot_path TEXT,
		xml_path TEXT,
		ocr_path TEXT,
		first_seen_step INTEGER NOT NULL,
		UNIQUE(run_id, composite_hash)
	);

	CREATE TABLE IF NOT EXISTS steps_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		step_number INTEGER NOT NULL,
		from_screen_id INTEGER,
		to_screen_id INTEGER,
		action_desc TEXT,
		llm_raw TEXT,
		mapped_action TEXT,
		success INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		llm_response_ms INTEGER,
		total_tokens INTEGER,
		llm_prompt TEXT,
		element_find_ms INTEGER,
		created_at DATETIME NOT NULL,
		UNIQUE(run_id, step_number)
	);
	CREATE INDEX IF NOT EXISTS idx_steps_run ON steps_log(run_id);
	CREATE INDEX IF NOT EXISTS idx_steps_from ON steps_log(run_id, from_screen_id);

	CREATE TABLE IF NOT EXISTS visits (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		screen_id INTEGER NOT NULL REFERENCES screens(id),
		count INTEGER NOT NULL DEFAULT 0,
		UNIQUE(run_id, screen_id)
	);

	CREATE TABLE IF NOT EXISTS journal (
		run_id INTEGER PRIMARY KEY REFERENCES runs(id),
		text TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetOrCreateRun resumes the latest RUNNING run for the app or starts
// a fresh one.
func (s *Store) GetOrCreateRun(appPkg, appEntry string) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM runs WHERE app_package = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		appPkg, protocol.StatusRunning).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("query runs: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO runs (app_package, app_activity, start_time, status) VALUES (?, ?, ?, ?)`,
		appPkg, appEntry, time.Now().UTC(), protocol.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// UpdateRunStatus sets the run's status and, for terminal states, the
// end time.
func (s *Store) UpdateRunStatus(runID int64, status string) error {
	var end interface{}
	if status != protocol.StatusRunning {
		end = time.Now().UTC()
	}
	_, err := s.db.Exec(`UPDATE runs SET status = ?, end_time = ? WHERE id = ?`, status, end, runID)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// UpdateRunMeta replaces the runtime statistics blob.
func (s *Store) UpdateRunMeta(runID int64, statsJSON string) error {
	_, err := s.db.Exec(`UPDATE runs SET meta_json = ? WHERE id = ?`, statsJSON, runID)
	if err != nil {
		return fmt.Errorf("update run meta: %w", err)
	}
	return nil
}

// GetRun fetches one run row.
func (s *Store) GetRun(runID int64) (*Run, error) {
	var r Run
	var end sql.NullTime
	var activity, meta sql.NullString
	err := s.db.QueryRow(
		`SELECT id, app_package, app_activity, start_time, end_time, status, meta_json FROM runs WHERE id = ?`,
		runID).Scan(&r.ID, &r.AppPackage, &activity, &r.StartTime, &end, &r.Status, &meta)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.AppEntry = activity.String
	r.MetaJSON = meta.String
	if end.Valid {
		r.EndTime = &end.Time
	}
	return &r, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, app_package, app_activity, start_time, end_time, status, meta_json FROM runs ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var end sql.NullTime
		var activity, meta sql.NullString
		if err := rows.Scan(&r.ID, &r.AppPackage, &activity, &r.StartTime, &end, &r.Status, &meta); err != nil {
			return nil, err
		}
		r.AppEntry = activity.String
		r.MetaJSON = meta.String
		if end.Valid {
			r.EndTime = &end.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpsertScreen inserts the screen on first sight and returns its id.
// The second return value reports whether the row was new. Within a
// run, composite_hash -> screen_id is a function: re-inserting the
// same hash returns the existing id and changes nothing.
func (s *Store) UpsertScreen(sc Screen) (int64, bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO screens (run_id, composite_hash, activity, screenshot_path, xml_path, ocr_path, first_seen_step)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, composite_hash) DO NOTHING`,
		sc.RunID, sc.CompositeHash, sc.Activity, sc.ScreenshotPath, sc.XMLPath, sc.OCRPath, sc.FirstSeenStep)
	if err != nil {
		return 0, false, fmt.Errorf("upsert screen: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		id, err := res.LastInsertId()
		return id, true, err
	}

	var id int64
	err = s.db.QueryRow(
		`SELECT id FROM screens WHERE run_id = ? AND composite_hash = ?`,
		sc.RunID, sc.CompositeHash).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("resolve screen: %w", err)
	}
	return id, false, nil
}

// GetScreen fetches one screen row.
func (s *Store) GetScreen(screenID int64) (*Screen, error) {
	var sc Screen
	var activity, shot, xml, ocr sql.NullString
	err := s.db.QueryRow(
		`SELECT id, run_id, composite_hash, activity, screenshot_path, xml_path, ocr_path, first_seen_step
		 FROM screens WHERE id = ?`, screenID).
		Scan(&sc.ID, &sc.RunID, &sc.CompositeHash, &activity, &shot, &xml, &ocr, &sc.FirstSeenStep)
	if err != nil {
		return nil, fmt.Errorf("get screen: %w", err)
	}
	sc.Activity = activity.String
	sc.ScreenshotPath = shot.String
	sc.XMLPath = xml.String
	sc.OCRPath = ocr.String
	return &sc, nil
}

// IncrementVisit bumps the per-run visit counter and returns the new
// count. Counters never reset within a run.
func (s *Store) IncrementVisit(runID, screenID int64) (int, error) {
	_, err := s.db.Exec(
		`INSERT INTO visits (run_id, screen_id, count) VALUES (?, ?, 1)
		 ON CONFLICT(run_id, screen_id) DO UPDATE SET count = count + 1`,
		runID, screenID)
	if err != nil {
		return 0, fmt.Errorf("increment visit: %w", err)
	}
	return s.GetVisitCount(runID, screenID)
}

// GetVisitCount returns the visit counter, 0 when never visited.
func (s *Store) GetVisitCount(runID, screenID int64) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT count FROM visits WHERE run_id = ? AND screen_id = ?`, runID, screenID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get visit count: %w", err)
	}
	return count, nil
}

// InsertStep records one decision-execution cycle. Duplicate step
// numbers within a run are ignored (idempotent retry).
func (s *Store) InsertStep(st StepInsert) error {
	_, err := s.db.Exec(
		`INSERT INTO steps_log (run_id, step_number, from_screen_id, to_screen_id, action_desc,
		   llm_raw, mapped_action, success, error_message, llm_response_ms, total_tokens,
		   llm_prompt, element_find_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step_number) DO NOTHING`,
		st.RunID, st.StepNumber, st.FromScreenID, st.ToScreenID, st.ActionDesc,
		st.LLMRaw, st.MappedAction, boolToInt(st.Success), st.ErrorMessage, st.LLMResponseMS,
		st.TotalTokens, st.LLMPrompt, st.ElementFindMS, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// MaxStepNumber returns the highest recorded step number for the run,
// 0 when none.
func (s *Store) MaxStepNumber(runID int64) (int, error) {
	var n sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(step_number) FROM steps_log WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("max step: %w", err)
	}
	return int(n.Int64), nil
}

// GetRecentSteps returns the last limit steps, most recent last.
func (s *Store) GetRecentSteps(runID int64, limit int) ([]StepDetail, error) {
	rows, err := s.db.Query(
		`SELECT step_number, action_desc, success, from_screen_id, to_screen_id, error_message
		 FROM steps_log WHERE run_id = ? ORDER BY step_number DESC LIMIT ?`,
		runID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent steps: %w", err)
	}
	defer rows.Close()

	var steps []StepDetail
	for rows.Next() {
		var d StepDetail
		var success int
		var desc, errMsg sql.NullString
		var from, to sql.NullInt64
		if err := rows.Scan(&d.StepNumber, &desc, &success, &from, &to, &errMsg); err != nil {
			return nil, err
		}
		d.ActionDesc = desc.String
		d.Success = success != 0
		d.FromScreenID = from.Int64
		d.ErrorMessage = errMsg.String
		if to.Valid {
			v := to.Int64
			d.ToScreenID = &v
		}
		steps = append(steps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse to chronological order
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps, nil
}

// GetVisitedScreens summarizes every screen seen in the run.
func (s *Store) GetVisitedScreens(runID int64) ([]ScreenSummary, error) {
	rows, err := s.db.Query(
		`SELECT sc.id, sc.composite_hash, sc.activity, COALESCE(v.count, 0), sc.first_seen_step
		 FROM screens sc LEFT JOIN visits v ON v.run_id = sc.run_id AND v.screen_id = sc.id
		 WHERE sc.run_id = ? ORDER BY sc.first_seen_step`, runID)
	if err != nil {
		return nil, fmt.Errorf("visited screens: %w", err)
	}
	defer rows.Close()

	var out []ScreenSummary
	for rows.Next() {
		var sm ScreenSummary
		var activity sql.NullString
		if err := rows.Scan(&sm.ScreenID, &sm.CompositeHash, &activity, &sm.VisitCount, &sm.FirstSeenStep); err != nil {
			return nil, err
		}
		sm.Activity = activity.String
		out = append(out, sm)
	}
	return out, rows.Err()
}

// GetActionsForScreen returns actions already tried from a screen in
// this run, oldest first.
func (s *Store) GetActionsForScreen(screenID, runID int64) ([]ScreenAction, error) {
	rows, err := s.db.Query(
		`SELECT step_number, action_desc, success, to_screen_id
		 FROM steps_log WHERE run_id = ? AND from_screen_id = ? ORDER BY step_number`,
		runID, screenID)
	if err != nil {
		return nil, fmt.Errorf("actions for screen: %w", err)
	}
	defer rows.Close()

	var out []ScreenAction
	for rows.Next() {
		var a ScreenAction
		var success int
		var desc sql.NullString
		var to sql.NullInt64
		if err := rows.Scan(&a.StepNumber, &desc, &success, &to); err != nil {
			return nil, err
		}
		a.ActionDesc = desc.String
		a.Success = success != 0
		if to.Valid {
			v := to.Int64
			a.ToScreenID = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetJournal returns the run's exploration journal, empty when unset.
func (s *Store) GetJournal(runID int64) (string, error) {
	var text string
	err := s.db.QueryRow(`SELECT text FROM journal WHERE run_id = ?`, runID).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get journal: %w", err)
	}
	return text, nil
}

// UpdateJournal replaces the journal text. The LLM owns the content;
// the store never edits it.
func (s *Store) UpdateJournal(runID int64, text string) error {
	_, err := s.db.Exec(
		`INSERT INTO journal (run_id, text, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at`,
		runID, text, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update journal: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
