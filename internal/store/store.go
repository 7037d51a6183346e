package store

import (
	"context"

	"github.com/sells-group/rfp-intake/internal/model"
)

// RfpFilter specifies criteria for listing RFPs.
type RfpFilter struct {
	ProjectID string          `json:"project_id,omitempty"`
	Status    model.RfpStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// StagedConfirmation holds a confirmation awaiting external approval when the
// origin policy requires change approval on re-confirmation.
type StagedConfirmation struct {
	RfpID        string              `json:"rfp_id"`
	VersionID    string              `json:"version_id"`
	Actor        string              `json:"actor"`
	Requirements []model.Requirement `json:"requirements"`
}

// Store is the persistence boundary for the intake workflow. Writes for a
// given RFP are serialized by callers (single-writer per aggregate); reads
// may run concurrently against committed state.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	SetProjectOrigin(ctx context.Context, projectID string, policy model.OriginPolicy) error

	// RFPs
	CreateRfp(ctx context.Context, rfp *model.Rfp) error
	GetRfp(ctx context.Context, id string) (*model.Rfp, error)
	UpdateRfp(ctx context.Context, rfp *model.Rfp) error
	ListRfps(ctx context.Context, filter RfpFilter) ([]model.Rfp, error)

	// Versions (append-only)
	CreateVersion(ctx context.Context, v *model.RfpVersion) error
	GetVersion(ctx context.Context, id string) (*model.RfpVersion, error)
	GetVersionByLabel(ctx context.Context, rfpID, label string) (*model.RfpVersion, error)
	ListVersions(ctx context.Context, rfpID string) ([]model.RfpVersion, error)

	// Extraction runs (append-only)
	CreateRun(ctx context.Context, run *model.ExtractionRun) error
	GetRun(ctx context.Context, id string) (*model.ExtractionRun, error)
	GetActiveRun(ctx context.Context, rfpID string) (*model.ExtractionRun, error)
	ListRuns(ctx context.Context, rfpID string) ([]model.ExtractionRun, error)
	UpdateRun(ctx context.Context, run *model.ExtractionRun) error
	// CompleteRun commits a successful run and its candidate set atomically,
	// deactivating prior runs for the same version. A failed commit persists
	// no candidates.
	CompleteRun(ctx context.Context, run *model.ExtractionRun, candidates []model.RequirementCandidate) error

	// Candidates
	GetCandidate(ctx context.Context, id string) (*model.RequirementCandidate, error)
	ListCandidates(ctx context.Context, runID string) ([]model.RequirementCandidate, error)
	UpdateCandidate(ctx context.Context, c *model.RequirementCandidate) error

	// Requirements and audit trail.
	// ConfirmRequirements commits promoted requirements, their CREATE change
	// events, and the RFP's new status in one transaction.
	ConfirmRequirements(ctx context.Context, rfp *model.Rfp, reqs []model.Requirement, events []model.ChangeEvent) error
	GetRequirement(ctx context.Context, id string) (*model.Requirement, error)
	ListRequirements(ctx context.Context, rfpID, versionID string) ([]model.Requirement, error)
	AppendChangeEvent(ctx context.Context, ev *model.ChangeEvent) error
	ListChangeEvents(ctx context.Context, requirementID string) ([]model.ChangeEvent, error)

	// Staged confirmations (change-approval gate)
	SaveStagedConfirmation(ctx context.Context, sc *StagedConfirmation) error
	GetStagedConfirmation(ctx context.Context, rfpID string) (*StagedConfirmation, error)
	DeleteStagedConfirmation(ctx context.Context, rfpID string) error

	// Blobs: opaque content-addressed document storage keyed by checksum.
	PutBlob(ctx context.Context, checksum string, data []byte) error
	GetBlob(ctx context.Context, checksum string) ([]byte, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
