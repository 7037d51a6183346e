package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rfp-intake/internal/export"
	"github.com/sells-group/rfp-intake/internal/model"
	"github.com/sells-group/rfp-intake/internal/store"
)

// maxUploadBytes bounds multipart uploads; the intake layer enforces its own
// document limit as well.
const maxUploadBytes = 64 << 20

// apiServer holds the handlers over the workflow environment.
type apiServer struct {
	env *workflowEnv
}

// rfpView is the list/detail representation: the stored RFP plus the display
// fields clients use to drive polling.
type rfpView struct {
	model.Rfp
	DisplayLabel string `json:"display_label"`
	Processing   bool   `json:"processing"`
}

func viewOf(rfp model.Rfp) rfpView {
	return rfpView{
		Rfp:          rfp,
		DisplayLabel: rfp.Status.Label(),
		Processing:   rfp.Status.Processing(),
	}
}

func (s *apiServer) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) createProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	p, err := s.env.Intake.CreateProject(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *apiServer) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.env.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": projects})
}

func (s *apiServer) setProjectOrigin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OriginType string `json:"origin_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OriginType == "" {
		badRequest(w, "origin_type is required")
		return
	}
	pol, err := s.env.Intake.SetOrigin(r.Context(), chi.URLParam(r, "projectID"), model.OriginType(req.OriginType))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pol)
}

// createRfp accepts either a JSON body (inline text or a document URI) or a
// multipart file upload.
func (s *apiServer) createRfp(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	actor := actorOf(r)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			badRequest(w, "invalid multipart body")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			badRequest(w, "file is required")
			return
		}
		defer file.Close() //nolint:errcheck
		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			writeError(w, eris.Wrap(err, "read upload"))
			return
		}
		title := r.FormValue("title")
		if title == "" {
			title = header.Filename
		}
		rfp, v, err := s.env.Intake.CreateFromUpload(r.Context(), projectID, title,
			header.Filename, header.Header.Get("Content-Type"), data, actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"rfp": viewOf(*rfp), "version": v})
		return
	}

	var req struct {
		Title string `json:"title"`
		Text  string `json:"text"`
		URI   string `json:"uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	var (
		rfp *model.Rfp
		v   *model.RfpVersion
		err error
	)
	switch {
	case req.Text != "":
		rfp, v, err = s.env.Intake.CreateFromText(r.Context(), projectID, req.Title, req.Text, actor)
	case req.URI != "":
		rfp, v, err = s.env.Intake.CreateFromURI(r.Context(), projectID, req.Title, req.URI, actor)
	case req.Title != "":
		// No document yet: the RFP starts empty and a version is
		// attached later.
		rfp, err = s.env.Intake.CreateRfp(r.Context(), projectID, req.Title, actor)
	default:
		badRequest(w, "title, text or uri is required")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"rfp": viewOf(*rfp)}
	if v != nil {
		resp["version"] = v
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *apiServer) addVersion(w http.ResponseWriter, r *http.Request) {
	rfpID := chi.URLParam(r, "rfpID")
	actor := actorOf(r)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		badRequest(w, "multipart file upload required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, eris.Wrap(err, "read upload"))
		return
	}

	v, err := s.env.Intake.AddVersion(r.Context(), rfpID, header.Filename, header.Header.Get("Content-Type"), data, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *apiServer) listRfps(w http.ResponseWriter, r *http.Request) {
	filter := store.RfpFilter{
		ProjectID: r.URL.Query().Get("project_id"),
		Status:    model.RfpStatus(r.URL.Query().Get("status")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		filter.Offset, _ = strconv.Atoi(offset)
	}

	rfps, err := s.env.Store.ListRfps(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]rfpView, 0, len(rfps))
	anyProcessing := false
	for _, rfp := range rfps {
		items = append(items, viewOf(rfp))
		if rfp.Status.Processing() {
			anyProcessing = true
		}
	}
	// Pollers keep refreshing while processing is true and stop once it
	// clears.
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "processing": anyProcessing})
}

func (s *apiServer) getRfp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rfpID := chi.URLParam(r, "rfpID")

	rfp, err := s.env.Store.GetRfp(ctx, rfpID)
	if err != nil {
		writeError(w, err)
		return
	}
	versions, err := s.env.Store.ListVersions(ctx, rfpID)
	if err != nil {
		writeError(w, err)
		return
	}
	rfp.Versions = versions

	resp := map[string]any{"rfp": viewOf(*rfp)}
	if run, err := s.env.Store.GetActiveRun(ctx, rfpID); err == nil {
		resp["latest_run"] = run
	}
	if kpi, err := s.env.Review.KPI(ctx, rfpID); err == nil {
		resp["kpi"] = kpi
	}
	writeJSON(w, http.StatusOK, resp)
}

// triggerAnalysis starts extraction on the RFP's latest version.
func (s *apiServer) triggerAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rfpID := chi.URLParam(r, "rfpID")

	versions, err := s.env.Store.ListVersions(ctx, rfpID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(versions) == 0 {
		writeError(w, eris.Wrap(model.ErrInvalidState, "rfp has no uploaded document"))
		return
	}

	run, err := s.env.Extraction.Trigger(ctx, versions[len(versions)-1].ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *apiServer) retryParse(w http.ResponseWriter, r *http.Request) {
	run, err := s.env.Extraction.RetryParse(r.Context(), chi.URLParam(r, "rfpID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *apiServer) getExtractionRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.env.Store.ListRuns(r.Context(), chi.URLParam(r, "rfpID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *apiServer) getLatestExtraction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := s.env.Store.GetActiveRun(ctx, chi.URLParam(r, "rfpID"))
	if err != nil {
		writeError(w, err)
		return
	}
	candidates, err := s.env.Store.ListCandidates(ctx, run.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "candidates": candidates})
}

func (s *apiServer) acceptCandidates(w http.ResponseWriter, r *http.Request) {
	s.reviewBatch(w, r, s.env.Review.Accept)
}

func (s *apiServer) rejectCandidates(w http.ResponseWriter, r *http.Request) {
	s.reviewBatch(w, r, s.env.Review.Reject)
}

func (s *apiServer) reviewBatch(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, rfpID string, ids []string, reviewer string) error) {
	var req struct {
		IDs      []string `json:"ids"`
		Reviewer string   `json:"reviewer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		badRequest(w, "ids are required")
		return
	}
	if req.Reviewer == "" {
		req.Reviewer = actorOf(r)
	}
	if err := op(r.Context(), chi.URLParam(r, "rfpID"), req.IDs, req.Reviewer); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) mergeCandidates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrimaryID    string   `json:"primary_id"`
		DuplicateIDs []string `json:"duplicate_ids"`
		Reviewer     string   `json:"reviewer"`
		Reason       string   `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PrimaryID == "" || len(req.DuplicateIDs) == 0 {
		badRequest(w, "primary_id and duplicate_ids are required")
		return
	}
	if req.Reviewer == "" {
		req.Reviewer = actorOf(r)
	}
	if err := s.env.Review.Merge(r.Context(), chi.URLParam(r, "rfpID"), req.PrimaryID, req.DuplicateIDs, req.Reviewer, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// updateCandidate edits a candidate's text. The owning RFP is resolved
// through the candidate's run.
func (s *apiServer) updateCandidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID := chi.URLParam(r, "candidateID")

	var req struct {
		Text     string `json:"text"`
		Reviewer string `json:"reviewer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		badRequest(w, "text is required")
		return
	}
	if req.Reviewer == "" {
		req.Reviewer = actorOf(r)
	}

	c, err := s.env.Store.GetCandidate(ctx, candidateID)
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := s.env.Store.GetRun(ctx, c.RunID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.env.Review.Edit(ctx, run.RfpID, candidateID, req.Text, req.Reviewer); err != nil {
		writeError(w, err)
		return
	}

	updated, err := s.env.Store.GetCandidate(ctx, candidateID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *apiServer) holdRfp(w http.ResponseWriter, r *http.Request) {
	if err := s.env.Review.Hold(r.Context(), chi.URLParam(r, "rfpID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) resumeRfp(w http.ResponseWriter, r *http.Request) {
	if err := s.env.Review.Resume(r.Context(), chi.URLParam(r, "rfpID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) requestReanalysis(w http.ResponseWriter, r *http.Request) {
	if err := s.env.Review.RequestReanalysis(r.Context(), chi.URLParam(r, "rfpID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) confirmCandidates(w http.ResponseWriter, r *http.Request) {
	res, err := s.env.Review.Confirm(r.Context(), chi.URLParam(r, "rfpID"), actorOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) observeApproval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approved bool   `json:"approved"`
		Actor    string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Actor == "" {
		req.Actor = actorOf(r)
	}
	res, err := s.env.Review.ObserveApproval(r.Context(), chi.URLParam(r, "rfpID"), req.Approved, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) getEvidence(w http.ResponseWriter, r *http.Request) {
	ev, err := s.env.Evidence.GetEvidence(r.Context(), chi.URLParam(r, "requirementID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *apiServer) getDiff(w http.ResponseWriter, r *http.Request) {
	d, err := s.diffFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *apiServer) exportDiff(w http.ResponseWriter, r *http.Request) {
	d, err := s.diffFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="diff-%s-%s.xlsx"`, d.FromVersion, d.ToVersion))
	if err := export.WriteDiff(w, d); err != nil {
		zap.L().Error("diff export failed", zap.Error(err))
	}
}

func (s *apiServer) diffFromQuery(r *http.Request) (*model.RfpDiff, error) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		return nil, eris.Wrap(model.ErrInvalidDocument, "from and to version labels are required")
	}
	return s.env.Diff.Compare(r.Context(), chi.URLParam(r, "rfpID"), from, to)
}

func (s *apiServer) listRequirements(w http.ResponseWriter, r *http.Request) {
	reqs, _, err := s.requirementsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requirements": reqs})
}

func (s *apiServer) exportRequirements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqs, label, err := s.requirementsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rfp, err := s.env.Store.GetRfp(ctx, chi.URLParam(r, "rfpID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="requirements-%s.xlsx"`, label))
	if err := export.WriteRequirements(w, rfp, label, reqs); err != nil {
		zap.L().Error("requirements export failed", zap.Error(err))
	}
}

// requirementsFromQuery resolves the version (explicit label or the latest)
// and returns its confirmed requirements.
func (s *apiServer) requirementsFromQuery(r *http.Request) ([]model.Requirement, string, error) {
	ctx := r.Context()
	rfpID := chi.URLParam(r, "rfpID")

	label := r.URL.Query().Get("version")
	var versionID string
	if label != "" {
		v, err := s.env.Store.GetVersionByLabel(ctx, rfpID, label)
		if err != nil {
			return nil, "", err
		}
		versionID = v.ID
	} else {
		versions, err := s.env.Store.ListVersions(ctx, rfpID)
		if err != nil {
			return nil, "", err
		}
		if len(versions) == 0 {
			return nil, "", eris.Wrap(model.ErrNotFound, "rfp has no versions")
		}
		latest := versions[len(versions)-1]
		versionID = latest.ID
		label = latest.VersionLabel
	}

	reqs, err := s.env.Store.ListRequirements(ctx, rfpID, versionID)
	if err != nil {
		return nil, "", err
	}
	return reqs, label, nil
}

func actorOf(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "api"
}
