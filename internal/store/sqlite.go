package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/rfp-intake/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	origin_type TEXT,
	policy      TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS rfps (
	id                 TEXT PRIMARY KEY,
	project_id         TEXT NOT NULL REFERENCES projects(id),
	title              TEXT NOT NULL,
	origin_type        TEXT NOT NULL,
	status             TEXT NOT NULL,
	previous_status    TEXT NOT NULL DEFAULT '',
	failure_reason     TEXT NOT NULL DEFAULT '',
	failure_reason_dev TEXT NOT NULL DEFAULT '',
	version_count      INTEGER NOT NULL DEFAULT 0,
	created_by         TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rfp_versions (
	id            TEXT PRIMARY KEY,
	rfp_id        TEXT NOT NULL REFERENCES rfps(id),
	version_label TEXT NOT NULL,
	file_checksum TEXT NOT NULL,
	file_uri      TEXT NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	size_bytes    INTEGER NOT NULL DEFAULT 0,
	uploaded_by   TEXT NOT NULL DEFAULT '',
	uploaded_at   DATETIME NOT NULL,
	UNIQUE (rfp_id, version_label)
);

CREATE TABLE IF NOT EXISTS extraction_runs (
	id                 TEXT PRIMARY KEY,
	rfp_id             TEXT NOT NULL REFERENCES rfps(id),
	version_id         TEXT NOT NULL REFERENCES rfp_versions(id),
	model_name         TEXT NOT NULL DEFAULT '',
	model_version      TEXT NOT NULL DEFAULT '',
	prompt_version     TEXT NOT NULL DEFAULT '',
	schema_version     TEXT NOT NULL DEFAULT '',
	params             TEXT NOT NULL DEFAULT '{}',
	status             TEXT NOT NULL,
	is_active          INTEGER NOT NULL DEFAULT 0,
	stats              TEXT,
	failure_reason     TEXT NOT NULL DEFAULT '',
	failure_reason_dev TEXT NOT NULL DEFAULT '',
	started_at         DATETIME NOT NULL,
	completed_at       DATETIME
);

CREATE TABLE IF NOT EXISTS candidates (
	id                  TEXT PRIMARY KEY,
	run_id              TEXT NOT NULL REFERENCES extraction_runs(id),
	req_key             TEXT NOT NULL,
	text                TEXT NOT NULL,
	category            TEXT NOT NULL,
	confidence          REAL NOT NULL DEFAULT 0,
	source_paragraph_id TEXT NOT NULL DEFAULT '',
	source_section      TEXT NOT NULL DEFAULT '',
	source_quote        TEXT NOT NULL DEFAULT '',
	is_ambiguous        INTEGER NOT NULL DEFAULT 0,
	duplicate_refs      TEXT NOT NULL DEFAULT '[]',
	status              TEXT NOT NULL,
	edited_text         TEXT NOT NULL DEFAULT '',
	reviewed_by         TEXT NOT NULL DEFAULT '',
	reviewed_at         DATETIME
);

CREATE TABLE IF NOT EXISTS requirements (
	id           TEXT PRIMARY KEY,
	rfp_id       TEXT NOT NULL REFERENCES rfps(id),
	version_id   TEXT NOT NULL REFERENCES rfp_versions(id),
	run_id       TEXT NOT NULL,
	candidate_id TEXT NOT NULL,
	req_key      TEXT NOT NULL,
	text         TEXT NOT NULL,
	category     TEXT NOT NULL,
	confirmed_by TEXT NOT NULL DEFAULT '',
	confirmed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS change_events (
	id             TEXT PRIMARY KEY,
	requirement_id TEXT NOT NULL,
	type           TEXT NOT NULL,
	actor          TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL DEFAULT '',
	occurred_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS staged_confirmations (
	rfp_id     TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS blobs (
	checksum   TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_rfps_project ON rfps(project_id);
CREATE INDEX IF NOT EXISTS idx_rfps_status ON rfps(status);
CREATE INDEX IF NOT EXISTS idx_versions_rfp ON rfp_versions(rfp_id);
CREATE INDEX IF NOT EXISTS idx_runs_rfp ON extraction_runs(rfp_id);
CREATE INDEX IF NOT EXISTS idx_runs_version ON extraction_runs(version_id);
CREATE INDEX IF NOT EXISTS idx_candidates_run ON candidates(run_id);
CREATE INDEX IF NOT EXISTS idx_requirements_rfp ON requirements(rfp_id, version_id);
CREATE INDEX IF NOT EXISTS idx_change_events_req ON change_events(requirement_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *model.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	policyJSON, err := marshalNullable(p.Policy)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal policy")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, origin_type, policy, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.OriginType), policyJSON, p.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert project")
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var (
		p          model.Project
		originType string
		policyJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(origin_type, ''), policy, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &originType, &policyJSON, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get project")
	}
	p.OriginType = model.OriginType(originType)
	if policyJSON.Valid && policyJSON.String != "" {
		var pol model.OriginPolicy
		if err := json.Unmarshal([]byte(policyJSON.String), &pol); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal policy")
		}
		p.Policy = &pol
	}
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(origin_type, ''), policy, created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close() //nolint:errcheck

	var projects []model.Project
	for rows.Next() {
		var (
			p          model.Project
			originType string
			policyJSON sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &originType, &policyJSON, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project")
		}
		p.OriginType = model.OriginType(originType)
		if policyJSON.Valid && policyJSON.String != "" {
			var pol model.OriginPolicy
			if err := json.Unmarshal([]byte(policyJSON.String), &pol); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal policy")
			}
			p.Policy = &pol
		}
		projects = append(projects, p)
	}
	return projects, eris.Wrap(rows.Err(), "sqlite: list projects")
}

func (s *SQLiteStore) SetProjectOrigin(ctx context.Context, projectID string, policy model.OriginPolicy) error {
	policyJSON, err := json.Marshal(policy)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal policy")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET origin_type = ?, policy = ? WHERE id = ?`,
		string(policy.OriginType), string(policyJSON), projectID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: set project origin")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- RFPs ---

func (s *SQLiteStore) CreateRfp(ctx context.Context, rfp *model.Rfp) error {
	now := time.Now().UTC()
	if rfp.CreatedAt.IsZero() {
		rfp.CreatedAt = now
	}
	rfp.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rfps (id, project_id, title, origin_type, status, previous_status,
			failure_reason, failure_reason_dev, version_count, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rfp.ID, rfp.ProjectID, rfp.Title, string(rfp.OriginType), string(rfp.Status),
		string(rfp.PreviousStatus), rfp.FailureReason, rfp.FailureReasonDev,
		rfp.VersionCount, rfp.CreatedBy, rfp.CreatedAt, rfp.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert rfp")
}

func (s *SQLiteStore) scanRfp(row interface{ Scan(...any) error }) (*model.Rfp, error) {
	var (
		rfp                    model.Rfp
		originType, st, prevSt string
	)
	err := row.Scan(&rfp.ID, &rfp.ProjectID, &rfp.Title, &originType, &st, &prevSt,
		&rfp.FailureReason, &rfp.FailureReasonDev, &rfp.VersionCount, &rfp.CreatedBy,
		&rfp.CreatedAt, &rfp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan rfp")
	}
	rfp.OriginType = model.OriginType(originType)
	rfp.Status = model.RfpStatus(st)
	rfp.PreviousStatus = model.RfpStatus(prevSt)
	return &rfp, nil
}

const rfpColumns = `id, project_id, title, origin_type, status, previous_status,
	failure_reason, failure_reason_dev, version_count, created_by, created_at, updated_at`

func (s *SQLiteStore) GetRfp(ctx context.Context, id string) (*model.Rfp, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rfpColumns+` FROM rfps WHERE id = ?`, id)
	return s.scanRfp(row)
}

func (s *SQLiteStore) UpdateRfp(ctx context.Context, rfp *model.Rfp) error {
	rfp.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE rfps SET status = ?, previous_status = ?, failure_reason = ?,
			failure_reason_dev = ?, version_count = ?, updated_at = ? WHERE id = ?`,
		string(rfp.Status), string(rfp.PreviousStatus), rfp.FailureReason,
		rfp.FailureReasonDev, rfp.VersionCount, rfp.UpdatedAt, rfp.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update rfp")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListRfps(ctx context.Context, filter RfpFilter) ([]model.Rfp, error) {
	query := `SELECT ` + rfpColumns + ` FROM rfps WHERE 1=1`
	var args []any
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rfps")
	}
	defer rows.Close()

	var out []model.Rfp
	for rows.Next() {
		rfp, err := s.scanRfp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rfp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rfps rows")
}

// --- Versions ---

func (s *SQLiteStore) CreateVersion(ctx context.Context, v *model.RfpVersion) error {
	if v.UploadedAt.IsZero() {
		v.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rfp_versions (id, rfp_id, version_label, file_checksum, file_uri,
			content_type, size_bytes, uploaded_by, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.RfpID, v.VersionLabel, v.FileChecksum, v.FileURI,
		v.ContentType, v.SizeBytes, v.UploadedBy, v.UploadedAt,
	)
	return eris.Wrap(err, "sqlite: insert version")
}

const versionColumns = `id, rfp_id, version_label, file_checksum, file_uri, content_type, size_bytes, uploaded_by, uploaded_at`

func (s *SQLiteStore) scanVersion(row interface{ Scan(...any) error }) (*model.RfpVersion, error) {
	var v model.RfpVersion
	err := row.Scan(&v.ID, &v.RfpID, &v.VersionLabel, &v.FileChecksum, &v.FileURI,
		&v.ContentType, &v.SizeBytes, &v.UploadedBy, &v.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan version")
	}
	return &v, nil
}

func (s *SQLiteStore) GetVersion(ctx context.Context, id string) (*model.RfpVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM rfp_versions WHERE id = ?`, id)
	return s.scanVersion(row)
}

func (s *SQLiteStore) GetVersionByLabel(ctx context.Context, rfpID, label string) (*model.RfpVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM rfp_versions WHERE rfp_id = ? AND version_label = ?`, rfpID, label)
	return s.scanVersion(row)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, rfpID string) ([]model.RfpVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM rfp_versions WHERE rfp_id = ? ORDER BY uploaded_at ASC`, rfpID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list versions")
	}
	defer rows.Close()

	var out []model.RfpVersion
	for rows.Next() {
		v, err := s.scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list versions rows")
}

// --- Extraction runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.ExtractionRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal params")
	}
	statsJSON, err := marshalNullable(run.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_runs (id, rfp_id, version_id, model_name, model_version,
			prompt_version, schema_version, params, status, is_active, stats,
			failure_reason, failure_reason_dev, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RfpID, run.VersionID, run.ModelName, run.ModelVersion,
		run.PromptVersion, run.SchemaVersion, string(paramsJSON), string(run.Status),
		boolToInt(run.IsActive), statsJSON, run.FailureReason, run.FailureReasonDev,
		run.StartedAt, nullableTime(run.CompletedAt),
	)
	return eris.Wrap(err, "sqlite: insert run")
}

const runColumns = `id, rfp_id, version_id, model_name, model_version, prompt_version,
	schema_version, params, status, is_active, stats, failure_reason, failure_reason_dev,
	started_at, completed_at`

func (s *SQLiteStore) scanRun(row interface{ Scan(...any) error }) (*model.ExtractionRun, error) {
	var (
		run         model.ExtractionRun
		paramsJSON  string
		st          string
		isActive    int
		statsJSON   sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.RfpID, &run.VersionID, &run.ModelName, &run.ModelVersion,
		&run.PromptVersion, &run.SchemaVersion, &paramsJSON, &st, &isActive, &statsJSON,
		&run.FailureReason, &run.FailureReasonDev, &run.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	run.Status = model.RunStatus(st)
	run.IsActive = isActive != 0
	if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal params")
	}
	if statsJSON.Valid && statsJSON.String != "" {
		var stats model.RunStats
		if err := json.Unmarshal([]byte(statsJSON.String), &stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal stats")
		}
		run.Stats = &stats
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.ExtractionRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM extraction_runs WHERE id = ?`, id)
	return s.scanRun(row)
}

func (s *SQLiteStore) GetActiveRun(ctx context.Context, rfpID string) (*model.ExtractionRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM extraction_runs
		 WHERE rfp_id = ? AND is_active = 1 ORDER BY started_at DESC LIMIT 1`, rfpID)
	return s.scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, rfpID string) ([]model.ExtractionRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM extraction_runs WHERE rfp_id = ? ORDER BY started_at DESC`, rfpID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.ExtractionRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs rows")
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.ExtractionRun) error {
	statsJSON, err := marshalNullable(run.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_runs SET status = ?, is_active = ?, stats = ?,
			failure_reason = ?, failure_reason_dev = ?, completed_at = ? WHERE id = ?`,
		string(run.Status), boolToInt(run.IsActive), statsJSON,
		run.FailureReason, run.FailureReasonDev, nullableTime(run.CompletedAt), run.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update run")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.ExtractionRun, candidates []model.RequirementCandidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin complete run")
	}
	defer tx.Rollback() //nolint:errcheck

	// Prior runs for this version lose their active flag.
	if _, err := tx.ExecContext(ctx,
		`UPDATE extraction_runs SET is_active = 0 WHERE version_id = ? AND id != ?`,
		run.VersionID, run.ID,
	); err != nil {
		return eris.Wrap(err, "sqlite: deactivate prior runs")
	}

	statsJSON, err := marshalNullable(run.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE extraction_runs SET status = ?, is_active = 1, stats = ?, completed_at = ? WHERE id = ?`,
		string(run.Status), statsJSON, nullableTime(run.CompletedAt), run.ID,
	); err != nil {
		return eris.Wrap(err, "sqlite: complete run")
	}

	for _, c := range candidates {
		refsJSON, err := json.Marshal(sliceOrEmpty(c.DuplicateRefs))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal duplicate refs")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO candidates (id, run_id, req_key, text, category, confidence,
				source_paragraph_id, source_section, source_quote, is_ambiguous,
				duplicate_refs, status, edited_text, reviewed_by, reviewed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.RunID, c.ReqKey, c.Text, string(c.Category), c.Confidence,
			c.SourceParagraphID, c.SourceSection, c.SourceQuote, boolToInt(c.IsAmbiguous),
			string(refsJSON), string(c.Status), c.EditedText, c.ReviewedBy, nullableTime(c.ReviewedAt),
		); err != nil {
			return eris.Wrap(err, "sqlite: insert candidate")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit complete run")
}

// --- Candidates ---

const candidateColumns = `id, run_id, req_key, text, category, confidence,
	source_paragraph_id, source_section, source_quote, is_ambiguous, duplicate_refs,
	status, edited_text, reviewed_by, reviewed_at`

func (s *SQLiteStore) scanCandidate(row interface{ Scan(...any) error }) (*model.RequirementCandidate, error) {
	var (
		c           model.RequirementCandidate
		category    string
		st          string
		isAmbiguous int
		refsJSON    string
		reviewedAt  sql.NullTime
	)
	err := row.Scan(&c.ID, &c.RunID, &c.ReqKey, &c.Text, &category, &c.Confidence,
		&c.SourceParagraphID, &c.SourceSection, &c.SourceQuote, &isAmbiguous, &refsJSON,
		&st, &c.EditedText, &c.ReviewedBy, &reviewedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan candidate")
	}
	c.Category = model.Category(category)
	c.Status = model.CandidateStatus(st)
	c.IsAmbiguous = isAmbiguous != 0
	if err := json.Unmarshal([]byte(refsJSON), &c.DuplicateRefs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal duplicate refs")
	}
	if len(c.DuplicateRefs) == 0 {
		c.DuplicateRefs = nil
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		c.ReviewedAt = &t
	}
	return &c, nil
}

func (s *SQLiteStore) GetCandidate(ctx context.Context, id string) (*model.RequirementCandidate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id)
	return s.scanCandidate(row)
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, runID string) ([]model.RequirementCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE run_id = ? ORDER BY req_key ASC`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close()

	var out []model.RequirementCandidate
	for rows.Next() {
		c, err := s.scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list candidates rows")
}

func (s *SQLiteStore) UpdateCandidate(ctx context.Context, c *model.RequirementCandidate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE candidates SET status = ?, edited_text = ?, reviewed_by = ?, reviewed_at = ? WHERE id = ?`,
		string(c.Status), c.EditedText, c.ReviewedBy, nullableTime(c.ReviewedAt), c.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update candidate")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- Requirements, change events ---

func (s *SQLiteStore) ConfirmRequirements(ctx context.Context, rfp *model.Rfp, reqs []model.Requirement, events []model.ChangeEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin confirm")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range reqs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO requirements (id, rfp_id, version_id, run_id, candidate_id,
				req_key, text, category, confirmed_by, confirmed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.RfpID, r.VersionID, r.RunID, r.CandidateID,
			r.ReqKey, r.Text, string(r.Category), r.ConfirmedBy, r.ConfirmedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert requirement")
		}
	}

	for _, ev := range events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO change_events (id, requirement_id, type, actor, reason, occurred_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.RequirementID, string(ev.Type), ev.Actor, ev.Reason, ev.OccurredAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert change event")
		}
	}

	rfp.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE rfps SET status = ?, previous_status = ?, updated_at = ? WHERE id = ?`,
		string(rfp.Status), string(rfp.PreviousStatus), rfp.UpdatedAt, rfp.ID,
	); err != nil {
		return eris.Wrap(err, "sqlite: update rfp on confirm")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit confirm")
}

const requirementColumns = `id, rfp_id, version_id, run_id, candidate_id, req_key, text, category, confirmed_by, confirmed_at`

func (s *SQLiteStore) scanRequirement(row interface{ Scan(...any) error }) (*model.Requirement, error) {
	var (
		r        model.Requirement
		category string
	)
	err := row.Scan(&r.ID, &r.RfpID, &r.VersionID, &r.RunID, &r.CandidateID,
		&r.ReqKey, &r.Text, &category, &r.ConfirmedBy, &r.ConfirmedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan requirement")
	}
	r.Category = model.Category(category)
	return &r, nil
}

func (s *SQLiteStore) GetRequirement(ctx context.Context, id string) (*model.Requirement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requirementColumns+` FROM requirements WHERE id = ?`, id)
	return s.scanRequirement(row)
}

func (s *SQLiteStore) ListRequirements(ctx context.Context, rfpID, versionID string) ([]model.Requirement, error) {
	query := `SELECT ` + requirementColumns + ` FROM requirements WHERE rfp_id = ?`
	args := []any{rfpID}
	if versionID != "" {
		query += ` AND version_id = ?`
		args = append(args, versionID)
	}
	query += ` ORDER BY req_key ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requirements")
	}
	defer rows.Close()

	var out []model.Requirement
	for rows.Next() {
		r, err := s.scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list requirements rows")
}

func (s *SQLiteStore) AppendChangeEvent(ctx context.Context, ev *model.ChangeEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO change_events (id, requirement_id, type, actor, reason, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RequirementID, string(ev.Type), ev.Actor, ev.Reason, ev.OccurredAt,
	)
	return eris.Wrap(err, "sqlite: insert change event")
}

func (s *SQLiteStore) ListChangeEvents(ctx context.Context, requirementID string) ([]model.ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, requirement_id, type, actor, reason, occurred_at
		 FROM change_events WHERE requirement_id = ? ORDER BY occurred_at ASC, id ASC`, requirementID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list change events")
	}
	defer rows.Close()

	var out []model.ChangeEvent
	for rows.Next() {
		var (
			ev     model.ChangeEvent
			evType string
		)
		if err := rows.Scan(&ev.ID, &ev.RequirementID, &evType, &ev.Actor, &ev.Reason, &ev.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan change event")
		}
		ev.Type = model.ChangeType(evType)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list change events rows")
}

// --- Staged confirmations ---

func (s *SQLiteStore) SaveStagedConfirmation(ctx context.Context, sc *StagedConfirmation) error {
	payload, err := json.Marshal(sc)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal staged confirmation")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO staged_confirmations (rfp_id, payload, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (rfp_id) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		sc.RfpID, string(payload), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save staged confirmation")
}

func (s *SQLiteStore) GetStagedConfirmation(ctx context.Context, rfpID string) (*StagedConfirmation, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM staged_confirmations WHERE rfp_id = ?`, rfpID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get staged confirmation")
	}
	var sc StagedConfirmation
	if err := json.Unmarshal([]byte(payload), &sc); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal staged confirmation")
	}
	return &sc, nil
}

func (s *SQLiteStore) DeleteStagedConfirmation(ctx context.Context, rfpID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM staged_confirmations WHERE rfp_id = ?`, rfpID)
	return eris.Wrap(err, "sqlite: delete staged confirmation")
}

// --- Blobs ---

func (s *SQLiteStore) PutBlob(ctx context.Context, checksum string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (checksum, data, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (checksum) DO NOTHING`,
		checksum, data, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put blob")
}

func (s *SQLiteStore) GetBlob(ctx context.Context, checksum string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE checksum = ?`, checksum).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get blob")
	}
	return data, nil
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func marshalNullable(v any) (any, error) {
	switch x := v.(type) {
	case *model.OriginPolicy:
		if x == nil {
			return nil, nil
		}
	case *model.RunStats:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
