package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rfp-intake/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in
// unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_rfp":          `SELECT ` + rfpColumns + ` FROM rfps WHERE id = $1`,
	"update_rfp":       `UPDATE rfps SET status = $1, previous_status = $2, failure_reason = $3, failure_reason_dev = $4, version_count = $5, updated_at = $6 WHERE id = $7`,
	"get_active_run":   `SELECT ` + runColumns + ` FROM extraction_runs WHERE rfp_id = $1 AND is_active ORDER BY started_at DESC LIMIT 1`,
	"get_candidate":    `SELECT ` + candidateColumns + ` FROM candidates WHERE id = $1`,
	"update_candidate": `UPDATE candidates SET status = $1, edited_text = $2, reviewed_by = $3, reviewed_at = $4 WHERE id = $5`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	origin_type TEXT,
	policy      JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
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
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rfp_versions (
	id            TEXT PRIMARY KEY,
	rfp_id        TEXT NOT NULL REFERENCES rfps(id),
	version_label TEXT NOT NULL,
	file_checksum TEXT NOT NULL,
	file_uri      TEXT NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	size_bytes    BIGINT NOT NULL DEFAULT 0,
	uploaded_by   TEXT NOT NULL DEFAULT '',
	uploaded_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	params             JSONB NOT NULL DEFAULT '{}',
	status             TEXT NOT NULL,
	is_active          BOOLEAN NOT NULL DEFAULT false,
	stats              JSONB,
	failure_reason     TEXT NOT NULL DEFAULT '',
	failure_reason_dev TEXT NOT NULL DEFAULT '',
	started_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS candidates (
	id                  TEXT PRIMARY KEY,
	run_id              TEXT NOT NULL REFERENCES extraction_runs(id),
	req_key             TEXT NOT NULL,
	text                TEXT NOT NULL,
	category            TEXT NOT NULL,
	confidence          DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_paragraph_id TEXT NOT NULL DEFAULT '',
	source_section      TEXT NOT NULL DEFAULT '',
	source_quote        TEXT NOT NULL DEFAULT '',
	is_ambiguous        BOOLEAN NOT NULL DEFAULT false,
	duplicate_refs      JSONB NOT NULL DEFAULT '[]',
	status              TEXT NOT NULL,
	edited_text         TEXT NOT NULL DEFAULT '',
	reviewed_by         TEXT NOT NULL DEFAULT '',
	reviewed_at         TIMESTAMPTZ
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
	confirmed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS change_events (
	id             TEXT PRIMARY KEY,
	requirement_id TEXT NOT NULL,
	type           TEXT NOT NULL,
	actor          TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL DEFAULT '',
	occurred_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS staged_confirmations (
	rfp_id     TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS blobs (
	checksum   TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	policyJSON, err := marshalNullable(p.Policy)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal policy")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO projects (id, name, origin_type, policy, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, string(p.OriginType), policyJSON, p.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert project")
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var (
		p          model.Project
		originType string
		policyJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(origin_type, ''), policy, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &originType, &policyJSON, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get project")
	}
	p.OriginType = model.OriginType(originType)
	if len(policyJSON) > 0 {
		var pol model.OriginPolicy
		if err := json.Unmarshal(policyJSON, &pol); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal policy")
		}
		p.Policy = &pol
	}
	return &p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(origin_type, ''), policy, created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var (
			p          model.Project
			originType string
			policyJSON []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &originType, &policyJSON, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		p.OriginType = model.OriginType(originType)
		if len(policyJSON) > 0 {
			var pol model.OriginPolicy
			if err := json.Unmarshal(policyJSON, &pol); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal policy")
			}
			p.Policy = &pol
		}
		projects = append(projects, p)
	}
	return projects, eris.Wrap(rows.Err(), "postgres: list projects")
}

func (s *PostgresStore) SetProjectOrigin(ctx context.Context, projectID string, policy model.OriginPolicy) error {
	policyJSON, err := json.Marshal(policy)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal policy")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET origin_type = $1, policy = $2 WHERE id = $3`,
		string(policy.OriginType), policyJSON, projectID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: set project origin")
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- RFPs ---

func (s *PostgresStore) CreateRfp(ctx context.Context, rfp *model.Rfp) error {
	now := time.Now().UTC()
	if rfp.CreatedAt.IsZero() {
		rfp.CreatedAt = now
	}
	rfp.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rfps (id, project_id, title, origin_type, status, previous_status,
			failure_reason, failure_reason_dev, version_count, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rfp.ID, rfp.ProjectID, rfp.Title, string(rfp.OriginType), string(rfp.Status),
		string(rfp.PreviousStatus), rfp.FailureReason, rfp.FailureReasonDev,
		rfp.VersionCount, rfp.CreatedBy, rfp.CreatedAt, rfp.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert rfp")
}

func scanPgRfp(row pgx.Row) (*model.Rfp, error) {
	var (
		rfp                    model.Rfp
		originType, st, prevSt string
	)
	err := row.Scan(&rfp.ID, &rfp.ProjectID, &rfp.Title, &originType, &st, &prevSt,
		&rfp.FailureReason, &rfp.FailureReasonDev, &rfp.VersionCount, &rfp.CreatedBy,
		&rfp.CreatedAt, &rfp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan rfp")
	}
	rfp.OriginType = model.OriginType(originType)
	rfp.Status = model.RfpStatus(st)
	rfp.PreviousStatus = model.RfpStatus(prevSt)
	return &rfp, nil
}

func (s *PostgresStore) GetRfp(ctx context.Context, id string) (*model.Rfp, error) {
	return scanPgRfp(s.pool.QueryRow(ctx, preparedStatements["get_rfp"], id))
}

func (s *PostgresStore) UpdateRfp(ctx context.Context, rfp *model.Rfp) error {
	rfp.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, preparedStatements["update_rfp"],
		string(rfp.Status), string(rfp.PreviousStatus), rfp.FailureReason,
		rfp.FailureReasonDev, rfp.VersionCount, rfp.UpdatedAt, rfp.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update rfp")
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListRfps(ctx context.Context, filter RfpFilter) ([]model.Rfp, error) {
	query := `SELECT ` + rfpColumns + ` FROM rfps WHERE 1=1`
	var args []any
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += ` AND project_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += ` OFFSET $` + strconv.Itoa(len(args))
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rfps")
	}
	defer rows.Close()

	var out []model.Rfp
	for rows.Next() {
		rfp, err := scanPgRfp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rfp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rfps rows")
}

// --- Versions ---

func (s *PostgresStore) CreateVersion(ctx context.Context, v *model.RfpVersion) error {
	if v.UploadedAt.IsZero() {
		v.UploadedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rfp_versions (id, rfp_id, version_label, file_checksum, file_uri,
			content_type, size_bytes, uploaded_by, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.RfpID, v.VersionLabel, v.FileChecksum, v.FileURI,
		v.ContentType, v.SizeBytes, v.UploadedBy, v.UploadedAt,
	)
	return eris.Wrap(err, "postgres: insert version")
}

func scanPgVersion(row pgx.Row) (*model.RfpVersion, error) {
	var v model.RfpVersion
	err := row.Scan(&v.ID, &v.RfpID, &v.VersionLabel, &v.FileChecksum, &v.FileURI,
		&v.ContentType, &v.SizeBytes, &v.UploadedBy, &v.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan version")
	}
	return &v, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, id string) (*model.RfpVersion, error) {
	return scanPgVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM rfp_versions WHERE id = $1`, id))
}

func (s *PostgresStore) GetVersionByLabel(ctx context.Context, rfpID, label string) (*model.RfpVersion, error) {
	return scanPgVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM rfp_versions WHERE rfp_id = $1 AND version_label = $2`, rfpID, label))
}

func (s *PostgresStore) ListVersions(ctx context.Context, rfpID string) ([]model.RfpVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM rfp_versions WHERE rfp_id = $1 ORDER BY uploaded_at ASC`, rfpID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list versions")
	}
	defer rows.Close()

	var out []model.RfpVersion
	for rows.Next() {
		v, err := scanPgVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list versions rows")
}

// --- Extraction runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.ExtractionRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal params")
	}
	statsJSON, err := marshalNullable(run.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_runs (id, rfp_id, version_id, model_name, model_version,
			prompt_version, schema_version, params, status, is_active, stats,
			failure_reason, failure_reason_dev, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		run.ID, run.RfpID, run.VersionID, run.ModelName, run.ModelVersion,
		run.PromptVersion, run.SchemaVersion, paramsJSON, string(run.Status),
		run.IsActive, statsJSON, run.FailureReason, run.FailureReasonDev,
		run.StartedAt, run.CompletedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func scanPgRun(row pgx.Row) (*model.ExtractionRun, error) {
	var (
		run         model.ExtractionRun
		paramsJSON  []byte
		st          string
		statsJSON   []byte
		completedAt *time.Time
	)
	err := row.Scan(&run.ID, &run.RfpID, &run.VersionID, &run.ModelName, &run.ModelVersion,
		&run.PromptVersion, &run.SchemaVersion, &paramsJSON, &st, &run.IsActive, &statsJSON,
		&run.FailureReason, &run.FailureReasonDev, &run.StartedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	run.Status = model.RunStatus(st)
	if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal params")
	}
	if len(statsJSON) > 0 {
		var stats model.RunStats
		if err := json.Unmarshal(statsJSON, &stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal stats")
		}
		run.Stats = &stats
	}
	run.CompletedAt = completedAt
	return &run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.ExtractionRun, error) {
	return scanPgRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM extraction_runs WHERE id = $1`, id))
}

func (s *PostgresStore) GetActiveRun(ctx context.Context, rfpID string) (*model.ExtractionRun, error) {
	return scanPgRun(s.pool.QueryRow(ctx, preparedStatements["get_active_run"], rfpID))
}

func (s *PostgresStore) ListRuns(ctx context.Context, rfpID string) ([]model.ExtractionRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM extraction_runs WHERE rfp_id = $1 ORDER BY started_at DESC`, rfpID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.ExtractionRun
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs rows")
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.ExtractionRun) error {
	statsJSON, err := marshalNullable(run.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_runs SET status = $1, is_active = $2, stats = $3,
			failure_reason = $4, failure_reason_dev = $5, completed_at = $6 WHERE id = $7`,
		string(run.Status), run.IsActive, statsJSON,
		run.FailureReason, run.FailureReasonDev, run.CompletedAt, run.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update run")
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.ExtractionRun, candidates []model.RequirementCandidate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin complete run")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE extraction_runs SET is_active = false WHERE version_id = $1 AND id != $2`,
		run.VersionID, run.ID,
	); err != nil {
		return eris.Wrap(err, "postgres: deactivate prior runs")
	}

	statsJSON, err := marshalNullable(run.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE extraction_runs SET status = $1, is_active = true, stats = $2, completed_at = $3 WHERE id = $4`,
		string(run.Status), statsJSON, run.CompletedAt, run.ID,
	); err != nil {
		return eris.Wrap(err, "postgres: complete run")
	}

	for _, c := range candidates {
		refsJSON, err := json.Marshal(sliceOrEmpty(c.DuplicateRefs))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal duplicate refs")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO candidates (id, run_id, req_key, text, category, confidence,
				source_paragraph_id, source_section, source_quote, is_ambiguous,
				duplicate_refs, status, edited_text, reviewed_by, reviewed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			c.ID, c.RunID, c.ReqKey, c.Text, string(c.Category), c.Confidence,
			c.SourceParagraphID, c.SourceSection, c.SourceQuote, c.IsAmbiguous,
			refsJSON, string(c.Status), c.EditedText, c.ReviewedBy, c.ReviewedAt,
		); err != nil {
			return eris.Wrap(err, "postgres: insert candidate")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit complete run")
}

// --- Candidates ---

func scanPgCandidate(row pgx.Row) (*model.RequirementCandidate, error) {
	var (
		c          model.RequirementCandidate
		category   string
		st         string
		refsJSON   []byte
		reviewedAt *time.Time
	)
	err := row.Scan(&c.ID, &c.RunID, &c.ReqKey, &c.Text, &category, &c.Confidence,
		&c.SourceParagraphID, &c.SourceSection, &c.SourceQuote, &c.IsAmbiguous, &refsJSON,
		&st, &c.EditedText, &c.ReviewedBy, &reviewedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan candidate")
	}
	c.Category = model.Category(category)
	c.Status = model.CandidateStatus(st)
	if err := json.Unmarshal(refsJSON, &c.DuplicateRefs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal duplicate refs")
	}
	if len(c.DuplicateRefs) == 0 {
		c.DuplicateRefs = nil
	}
	c.ReviewedAt = reviewedAt
	return &c, nil
}

func (s *PostgresStore) GetCandidate(ctx context.Context, id string) (*model.RequirementCandidate, error) {
	return scanPgCandidate(s.pool.QueryRow(ctx, preparedStatements["get_candidate"], id))
}

func (s *PostgresStore) ListCandidates(ctx context.Context, runID string) ([]model.RequirementCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE run_id = $1 ORDER BY req_key ASC`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []model.RequirementCandidate
	for rows.Next() {
		c, err := scanPgCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list candidates rows")
}

func (s *PostgresStore) UpdateCandidate(ctx context.Context, c *model.RequirementCandidate) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["update_candidate"],
		string(c.Status), c.EditedText, c.ReviewedBy, c.ReviewedAt, c.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update candidate")
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- Requirements, change events ---

func (s *PostgresStore) ConfirmRequirements(ctx context.Context, rfp *model.Rfp, reqs []model.Requirement, events []model.ChangeEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin confirm")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, r := range reqs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO requirements (id, rfp_id, version_id, run_id, candidate_id,
				req_key, text, category, confirmed_by, confirmed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID, r.RfpID, r.VersionID, r.RunID, r.CandidateID,
			r.ReqKey, r.Text, string(r.Category), r.ConfirmedBy, r.ConfirmedAt,
		); err != nil {
			return eris.Wrap(err, "postgres: insert requirement")
		}
	}

	for _, ev := range events {
		if _, err := tx.Exec(ctx,
			`INSERT INTO change_events (id, requirement_id, type, actor, reason, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			ev.ID, ev.RequirementID, string(ev.Type), ev.Actor, ev.Reason, ev.OccurredAt,
		); err != nil {
			return eris.Wrap(err, "postgres: insert change event")
		}
	}

	rfp.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE rfps SET status = $1, previous_status = $2, updated_at = $3 WHERE id = $4`,
		string(rfp.Status), string(rfp.PreviousStatus), rfp.UpdatedAt, rfp.ID,
	); err != nil {
		return eris.Wrap(err, "postgres: update rfp on confirm")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit confirm")
}

func scanPgRequirement(row pgx.Row) (*model.Requirement, error) {
	var (
		r        model.Requirement
		category string
	)
	err := row.Scan(&r.ID, &r.RfpID, &r.VersionID, &r.RunID, &r.CandidateID,
		&r.ReqKey, &r.Text, &category, &r.ConfirmedBy, &r.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan requirement")
	}
	r.Category = model.Category(category)
	return &r, nil
}

func (s *PostgresStore) GetRequirement(ctx context.Context, id string) (*model.Requirement, error) {
	return scanPgRequirement(s.pool.QueryRow(ctx,
		`SELECT `+requirementColumns+` FROM requirements WHERE id = $1`, id))
}

func (s *PostgresStore) ListRequirements(ctx context.Context, rfpID, versionID string) ([]model.Requirement, error) {
	query := `SELECT ` + requirementColumns + ` FROM requirements WHERE rfp_id = $1`
	args := []any{rfpID}
	if versionID != "" {
		args = append(args, versionID)
		query += ` AND version_id = $2`
	}
	query += ` ORDER BY req_key ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requirements")
	}
	defer rows.Close()

	var out []model.Requirement
	for rows.Next() {
		r, err := scanPgRequirement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list requirements rows")
}

func (s *PostgresStore) AppendChangeEvent(ctx context.Context, ev *model.ChangeEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO change_events (id, requirement_id, type, actor, reason, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.RequirementID, string(ev.Type), ev.Actor, ev.Reason, ev.OccurredAt,
	)
	return eris.Wrap(err, "postgres: insert change event")
}

func (s *PostgresStore) ListChangeEvents(ctx context.Context, requirementID string) ([]model.ChangeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, requirement_id, type, actor, reason, occurred_at
		 FROM change_events WHERE requirement_id = $1 ORDER BY occurred_at ASC, id ASC`, requirementID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list change events")
	}
	defer rows.Close()

	var out []model.ChangeEvent
	for rows.Next() {
		var (
			ev     model.ChangeEvent
			evType string
		)
		if err := rows.Scan(&ev.ID, &ev.RequirementID, &evType, &ev.Actor, &ev.Reason, &ev.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan change event")
		}
		ev.Type = model.ChangeType(evType)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list change events rows")
}

// --- Staged confirmations ---

func (s *PostgresStore) SaveStagedConfirmation(ctx context.Context, sc *StagedConfirmation) error {
	payload, err := json.Marshal(sc)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal staged confirmation")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO staged_confirmations (rfp_id, payload, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (rfp_id) DO UPDATE SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
		sc.RfpID, payload, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save staged confirmation")
}

func (s *PostgresStore) GetStagedConfirmation(ctx context.Context, rfpID string) (*StagedConfirmation, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM staged_confirmations WHERE rfp_id = $1`, rfpID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get staged confirmation")
	}
	var sc StagedConfirmation
	if err := json.Unmarshal(payload, &sc); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal staged confirmation")
	}
	return &sc, nil
}

func (s *PostgresStore) DeleteStagedConfirmation(ctx context.Context, rfpID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM staged_confirmations WHERE rfp_id = $1`, rfpID)
	return eris.Wrap(err, "postgres: delete staged confirmation")
}

// --- Blobs ---

func (s *PostgresStore) PutBlob(ctx context.Context, checksum string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blobs (checksum, data, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (checksum) DO NOTHING`,
		checksum, data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: put blob")
}

func (s *PostgresStore) GetBlob(ctx context.Context, checksum string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM blobs WHERE checksum = $1`, checksum).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get blob")
	}
	return data, nil
}
