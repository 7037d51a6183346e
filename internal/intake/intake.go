// Package intake admits documents into the workflow. It is the only place a
// new RFP, version, or blob comes into existence.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rfp-intake/internal/fetch"
	"github.com/sells-group/rfp-intake/internal/lock"
	"github.com/sells-group/rfp-intake/internal/model"
	"github.com/sells-group/rfp-intake/internal/policy"
	"github.com/sells-group/rfp-intake/internal/status"
	"github.com/sells-group/rfp-intake/internal/store"
)

// allowedContentTypes is the intake allowlist. Anything else is rejected with
// ErrInvalidDocument before touching storage.
var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/markdown": true,
	"text/plain":    true,
}

// Analyzer is the extraction trigger port. Intake calls it after an upload
// when the project's policy enables auto-analysis.
type Analyzer interface {
	Trigger(ctx context.Context, versionID string) (*model.ExtractionRun, error)
}

// Intake creates RFPs and their immutable document versions.
type Intake struct {
	store    store.Store
	locks    lock.Locker
	http     *fetch.HTTPFetcher
	ftp      *fetch.FTPFetcher
	analyzer Analyzer
}

// Options configures optional intake collaborators.
type Options struct {
	HTTP     *fetch.HTTPFetcher
	FTP      *fetch.FTPFetcher
	Analyzer Analyzer
}

// New creates an Intake backed by the given store. The Locker must be the
// same instance shared with extraction and review so writes to one RFP are
// serialized across components.
func New(st store.Store, locks lock.Locker, opts Options) *Intake {
	if opts.HTTP == nil {
		opts.HTTP = fetch.NewHTTPFetcher(fetch.HTTPOptions{})
	}
	if opts.FTP == nil {
		opts.FTP = fetch.NewFTPFetcher(fetch.FTPOptions{})
	}
	return &Intake{
		store:    st,
		locks:    locks,
		http:     opts.HTTP,
		ftp:      opts.FTP,
		analyzer: opts.Analyzer,
	}
}

// CreateProject registers a new project. The origin type may be empty; until
// SetOrigin is called the project has no resolved policy and uploads into it
// are governed by the most restrictive defaults.
func (i *Intake) CreateProject(ctx context.Context, name string) (*model.Project, error) {
	p := &model.Project{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := i.store.CreateProject(ctx, p); err != nil {
		return nil, eris.Wrap(err, "intake: create project")
	}
	return p, nil
}

// SetOrigin declares the project's origin and persists the resolved policy.
// It is a one-time, explicit action: changing governance later means
// selecting a new origin here again, and the new policy only applies to work
// from that point on. RFPs still sitting in EMPTY advance to ORIGIN_DEFINED.
func (i *Intake) SetOrigin(ctx context.Context, projectID string, origin model.OriginType) (*model.OriginPolicy, error) {
	if !origin.Valid() {
		return nil, eris.Wrapf(model.ErrOriginPolicyViolation, "intake: unknown origin type %q", origin)
	}

	pol := policy.Resolve(origin)
	if err := i.store.SetProjectOrigin(ctx, projectID, pol); err != nil {
		return nil, eris.Wrap(err, "intake: set project origin")
	}

	rfps, err := i.store.ListRfps(ctx, store.RfpFilter{ProjectID: projectID, Status: model.StatusEmpty})
	if err != nil {
		return nil, eris.Wrap(err, "intake: list empty rfps")
	}
	for idx := range rfps {
		rfp := &rfps[idx]
		i.locks.Lock(rfp.ID)
		if err := status.Transition(rfp, model.StatusOriginDefined); err == nil {
			rfp.OriginType = origin
			if err := i.store.UpdateRfp(ctx, rfp); err != nil {
				i.locks.Unlock(rfp.ID)
				return nil, eris.Wrap(err, "intake: advance rfp to origin defined")
			}
		}
		i.locks.Unlock(rfp.ID)
	}

	zap.L().Info("intake: origin set",
		zap.String("project_id", projectID),
		zap.String("origin_type", string(origin)))
	return &pol, nil
}

// CreateRfp registers an empty RFP under a project. Its first document
// arrives later through one of the CreateFrom operations or AddVersion.
func (i *Intake) CreateRfp(ctx context.Context, projectID, title, createdBy string) (*model.Rfp, error) {
	project, err := i.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "intake: load project")
	}

	now := time.Now().UTC()
	rfp := &model.Rfp{
		ID:         uuid.NewString(),
		ProjectID:  project.ID,
		Title:      title,
		OriginType: project.OriginType,
		Status:     model.StatusEmpty,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if project.Policy != nil {
		rfp.Status = model.StatusOriginDefined
	}
	if err := i.store.CreateRfp(ctx, rfp); err != nil {
		return nil, eris.Wrap(err, "intake: create rfp")
	}
	return rfp, nil
}

// CreateFromUpload creates an RFP under the project and attaches the uploaded
// file as its first version.
func (i *Intake) CreateFromUpload(ctx context.Context, projectID, title, filename, contentType string, data []byte, uploadedBy string) (*model.Rfp, *model.RfpVersion, error) {
	ct, err := normalizeContentType(contentType, filename)
	if err != nil {
		return nil, nil, err
	}
	return i.createWithDocument(ctx, projectID, title, ct, data, uploadedBy)
}

// CreateFromText creates an RFP from inline text, stored as a plain-text
// document version.
func (i *Intake) CreateFromText(ctx context.Context, projectID, title, text, uploadedBy string) (*model.Rfp, *model.RfpVersion, error) {
	return i.createWithDocument(ctx, projectID, title, "text/plain", []byte(text), uploadedBy)
}

// CreateFromURI fetches a document over http(s) or ftp and runs it through
// the normal upload path.
func (i *Intake) CreateFromURI(ctx context.Context, projectID, title, uri, uploadedBy string) (*model.Rfp, *model.RfpVersion, error) {
	data, contentType, err := i.fetchURI(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	ct, err := normalizeContentType(contentType, uri)
	if err != nil {
		return nil, nil, err
	}
	return i.createWithDocument(ctx, projectID, title, ct, data, uploadedBy)
}

// AddVersion attaches a new document version to an existing RFP. Re-uploading
// over a CONFIRMED RFP moves it to NEEDS_REANALYSIS; the prior version, its
// runs, and its review history stay untouched.
func (i *Intake) AddVersion(ctx context.Context, rfpID, filename, contentType string, data []byte, uploadedBy string) (*model.RfpVersion, error) {
	ct, err := normalizeContentType(contentType, filename)
	if err != nil {
		return nil, err
	}

	i.locks.Lock(rfpID)
	defer i.locks.Unlock(rfpID)

	rfp, err := i.store.GetRfp(ctx, rfpID)
	if err != nil {
		return nil, eris.Wrap(err, "intake: load rfp")
	}
	project, err := i.store.GetProject(ctx, rfp.ProjectID)
	if err != nil {
		return nil, eris.Wrap(err, "intake: load project")
	}

	return i.attachVersion(ctx, project, rfp, ct, data, uploadedBy)
}

func (i *Intake) createWithDocument(ctx context.Context, projectID, title, contentType string, data []byte, uploadedBy string) (*model.Rfp, *model.RfpVersion, error) {
	if len(data) == 0 {
		return nil, nil, eris.Wrap(model.ErrInvalidDocument, "intake: empty document")
	}

	project, err := i.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "intake: load project")
	}
	if err := checkUploadPolicy(project); err != nil {
		return nil, nil, err
	}

	rfp, err := i.CreateRfp(ctx, projectID, title, uploadedBy)
	if err != nil {
		return nil, nil, err
	}

	i.locks.Lock(rfp.ID)
	defer i.locks.Unlock(rfp.ID)

	v, err := i.attachVersion(ctx, project, rfp, contentType, data, uploadedBy)
	if err != nil {
		return nil, nil, err
	}
	return rfp, v, nil
}

// attachVersion stores the blob, appends the version record, and drives the
// RFP's status. Caller holds the RFP lock.
func (i *Intake) attachVersion(ctx context.Context, project *model.Project, rfp *model.Rfp, contentType string, data []byte, uploadedBy string) (*model.RfpVersion, error) {
	if len(data) == 0 {
		return nil, eris.Wrap(model.ErrInvalidDocument, "intake: empty document")
	}
	if !allowedContentTypes[contentType] {
		return nil, eris.Wrapf(model.ErrInvalidDocument, "intake: unsupported content type %q", contentType)
	}
	if err := checkUploadPolicy(project); err != nil {
		return nil, err
	}

	switch rfp.Status {
	case model.StatusEmpty, model.StatusOriginDefined:
		if err := status.Transition(rfp, model.StatusUploaded); err != nil {
			return nil, err
		}
	case model.StatusConfirmed:
		if err := status.Transition(rfp, model.StatusNeedsReanalysis); err != nil {
			return nil, err
		}
	case model.StatusUploaded, model.StatusFailed, model.StatusNeedsReanalysis:
		// Replacing a document that was never confirmed keeps the current
		// status; the new version simply becomes the latest.
	default:
		return nil, model.ErrInvalidState
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	if err := i.store.PutBlob(ctx, checksum, data); err != nil {
		return nil, eris.Wrap(err, "intake: store blob")
	}

	v := &model.RfpVersion{
		ID:           uuid.NewString(),
		RfpID:        rfp.ID,
		VersionLabel: fmt.Sprintf("v%d", rfp.VersionCount+1),
		FileChecksum: checksum,
		FileURI:      "blob:sha256/" + checksum,
		ContentType:  contentType,
		SizeBytes:    int64(len(data)),
		UploadedBy:   uploadedBy,
		UploadedAt:   time.Now().UTC(),
	}
	if err := i.store.CreateVersion(ctx, v); err != nil {
		return nil, eris.Wrap(err, "intake: create version")
	}

	rfp.VersionCount++
	rfp.UpdatedAt = time.Now().UTC()
	if err := i.store.UpdateRfp(ctx, rfp); err != nil {
		return nil, eris.Wrap(err, "intake: update rfp")
	}

	zap.L().Info("intake: version attached",
		zap.String("rfp_id", rfp.ID),
		zap.String("version", v.VersionLabel),
		zap.String("checksum", checksum),
		zap.Int64("size_bytes", v.SizeBytes))

	if i.analyzer != nil && effectivePolicy(project).AutoAnalysisEnabled {
		if _, err := i.analyzer.Trigger(ctx, v.ID); err != nil {
			// A concurrent or manual run is not an intake failure.
			zap.L().Warn("intake: auto analysis not started",
				zap.String("rfp_id", rfp.ID), zap.Error(err))
		}
	}
	return v, nil
}

func (i *Intake) fetchURI(ctx context.Context, uri string) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return i.http.Fetch(ctx, uri)
	case strings.HasPrefix(uri, "ftp://"):
		data, err := i.ftp.Fetch(ctx, uri)
		return data, "", err
	default:
		return nil, "", eris.Wrapf(model.ErrInvalidDocument, "intake: unsupported uri scheme in %q", uri)
	}
}

// effectivePolicy is the governance in force for uploads. A project without a
// declared origin gets the most restrictive resolution, never a free pass.
func effectivePolicy(project *model.Project) model.OriginPolicy {
	if project.Policy != nil {
		return *project.Policy
	}
	return policy.Resolve(project.OriginType)
}

// checkUploadPolicy rejects uploads that would create a document with no
// source lineage when the policy demands one.
func checkUploadPolicy(project *model.Project) error {
	pol := effectivePolicy(project)
	if pol.RequireSourceReference && project.Policy == nil {
		return eris.Wrap(model.ErrOriginPolicyViolation, "intake: origin must be declared before upload")
	}
	return nil
}

// normalizeContentType strips parameters and falls back to the filename
// extension when the caller sent nothing usable.
func normalizeContentType(contentType, filename string) (string, error) {
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err == nil && mt != "application/octet-stream" {
			return mt, nil
		}
	}
	switch {
	case strings.HasSuffix(strings.ToLower(filename), ".pdf"):
		return "application/pdf", nil
	case strings.HasSuffix(strings.ToLower(filename), ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document", nil
	case strings.HasSuffix(strings.ToLower(filename), ".md"):
		return "text/markdown", nil
	case strings.HasSuffix(strings.ToLower(filename), ".txt"):
		return "text/plain", nil
	}
	return "", eris.Wrapf(model.ErrInvalidDocument, "intake: cannot determine content type for %q", filename)
}
