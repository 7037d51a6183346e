// Package extraction owns the run lifecycle: triggering, background
// execution, completion, and retry. Runs are append-only; the manager never
// rewrites history, it only adds to it.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rfp-intake/internal/lock"
	"github.com/sells-group/rfp-intake/internal/model"
	"github.com/sells-group/rfp-intake/internal/status"
	"github.com/sells-group/rfp-intake/internal/store"
	"github.com/sells-group/rfp-intake/pkg/extractor"
)

// Config carries the generation parameters recorded on every run plus the
// worker and notification settings.
type Config struct {
	Model         string
	Temperature   float64
	TopP          float64
	MaxTokens     int64
	PromptVersion string
	SchemaVersion string
	Workers       int
	WebhookURL    string
}

// RunEvent signals a run reaching a terminal state.
type RunEvent struct {
	RfpID         string          `json:"rfp_id"`
	RunID         string          `json:"run_id"`
	Status        model.RunStatus `json:"status"`
	Stats         *model.RunStats `json:"stats,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Manager triggers extraction runs and executes them out-of-band. Trigger
// returns as soon as the run is persisted PENDING; completion is observable
// via Subscribe, the optional webhook, or by polling the store.
type Manager struct {
	store  store.Store
	client extractor.Client
	locks  lock.Locker
	cfg    Config

	group *errgroup.Group
	webhk *http.Client

	mu   sync.Mutex
	subs map[string][]chan RunEvent
}

// NewManager wires the run manager. The Locker must be shared with intake and
// review so run commits never interleave with review writes on the same RFP.
func NewManager(st store.Store, client extractor.Client, locks lock.Locker, cfg Config) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.PromptVersion == "" {
		cfg.PromptVersion = extractor.DefaultPromptVersion
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = extractor.DefaultSchemaVersion
	}

	g := &errgroup.Group{}
	g.SetLimit(cfg.Workers)

	return &Manager{
		store:  st,
		client: client,
		locks:  locks,
		cfg:    cfg,
		group:  g,
		webhk:  &http.Client{Timeout: 10 * time.Second},
		subs:   make(map[string][]chan RunEvent),
	}
}

// Wait blocks until all in-flight runs have finished. Used on shutdown.
func (m *Manager) Wait() error {
	return m.group.Wait()
}

// Trigger starts extraction for a version. At most one run per RFP may be in
// flight; a second trigger while one is PENDING or RUNNING fails with
// ErrRunInProgress. The returned run is PENDING and the RFP is in PARSING.
func (m *Manager) Trigger(ctx context.Context, versionID string) (*model.ExtractionRun, error) {
	version, err := m.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: load version")
	}

	m.locks.Lock(version.RfpID)
	defer m.locks.Unlock(version.RfpID)

	rfp, err := m.store.GetRfp(ctx, version.RfpID)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: load rfp")
	}
	if err := m.checkNoRunInFlight(ctx, rfp.ID); err != nil {
		return nil, err
	}
	// PARSED is omitted from the gate: an RFP only sits there mid-run, and
	// the in-flight check above has already rejected a concurrent trigger.
	if err := status.Require(rfp, model.StatusUploaded, model.StatusConfirmed, model.StatusNeedsReanalysis); err != nil {
		return nil, err
	}

	run, err := m.startRun(ctx, rfp, version)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// RetryParse re-runs extraction after an explicit operator decision. Only
// FAILED and NEEDS_REANALYSIS RFPs qualify; the failed run stays in history.
func (m *Manager) RetryParse(ctx context.Context, rfpID string) (*model.ExtractionRun, error) {
	m.locks.Lock(rfpID)
	defer m.locks.Unlock(rfpID)

	rfp, err := m.store.GetRfp(ctx, rfpID)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: load rfp")
	}
	if err := m.checkNoRunInFlight(ctx, rfp.ID); err != nil {
		return nil, err
	}
	if err := status.Require(rfp, model.StatusFailed, model.StatusNeedsReanalysis); err != nil {
		return nil, err
	}

	versions, err := m.store.ListVersions(ctx, rfpID)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: list versions")
	}
	if len(versions) == 0 {
		return nil, eris.Wrap(model.ErrInvalidState, "extraction: no version to retry")
	}
	latest := versions[len(versions)-1]

	return m.startRun(ctx, rfp, &latest)
}

// checkNoRunInFlight enforces the single-run invariant. It runs before the
// status gate so concurrent triggers see ErrRunInProgress, not a state error.
func (m *Manager) checkNoRunInFlight(ctx context.Context, rfpID string) error {
	active, err := m.store.GetActiveRun(ctx, rfpID)
	if err != nil {
		if eris.Is(err, model.ErrNotFound) {
			return nil
		}
		return eris.Wrap(err, "extraction: check active run")
	}
	if active.Status == model.RunPending || active.Status == model.RunRunning {
		return model.ErrRunInProgress
	}
	return nil
}

// startRun persists the PENDING run, moves the RFP into PARSING, and hands
// off to the worker pool. Caller holds the RFP lock and has verified no run
// is in flight.
func (m *Manager) startRun(ctx context.Context, rfp *model.Rfp, version *model.RfpVersion) (*model.ExtractionRun, error) {
	run := &model.ExtractionRun{
		ID:            uuid.NewString(),
		RfpID:         rfp.ID,
		VersionID:     version.ID,
		ModelName:     m.cfg.Model,
		PromptVersion: m.cfg.PromptVersion,
		SchemaVersion: m.cfg.SchemaVersion,
		Params: model.GenerationParams{
			Temperature: m.cfg.Temperature,
			TopP:        m.cfg.TopP,
			MaxTokens:   m.cfg.MaxTokens,
		},
		Status:    model.RunPending,
		IsActive:  true,
		StartedAt: time.Now().UTC(),
	}
	if err := m.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "extraction: create run")
	}

	// CONFIRMED re-analysis passes through NEEDS_REANALYSIS on its way to
	// PARSING; both hops are legal table moves.
	if rfp.Status == model.StatusConfirmed {
		if err := status.Transition(rfp, model.StatusNeedsReanalysis); err != nil {
			return nil, err
		}
	}
	if err := status.Transition(rfp, model.StatusParsing); err != nil {
		return nil, err
	}
	rfp.FailureReason = ""
	rfp.FailureReasonDev = ""
	rfp.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateRfp(ctx, rfp); err != nil {
		return nil, eris.Wrap(err, "extraction: update rfp")
	}

	zap.L().Info("extraction: run queued",
		zap.String("rfp_id", rfp.ID),
		zap.String("run_id", run.ID),
		zap.String("version", version.VersionLabel))

	snapshot := *run
	m.group.Go(func() error {
		m.execute(context.Background(), &snapshot, version.FileChecksum)
		return nil
	})
	return run, nil
}

// execute drives one run to a terminal state. It runs on a worker goroutine
// detached from the trigger request's context.
func (m *Manager) execute(ctx context.Context, run *model.ExtractionRun, checksum string) {
	run.Status = model.RunRunning
	if err := m.store.UpdateRun(ctx, run); err != nil {
		zap.L().Error("extraction: mark run running", zap.Error(err))
	}

	doc, err := m.store.GetBlob(ctx, checksum)
	if err != nil {
		m.fail(ctx, run, "The document could not be read for analysis.",
			eris.Wrap(err, "extraction: load blob"))
		return
	}

	// PARSING -> PARSED: the stored document decoded into analyzable text.
	if err := m.advance(ctx, run.RfpID, model.StatusParsed); err != nil {
		m.fail(ctx, run, "The document could not be parsed.", err)
		return
	}
	if err := m.advance(ctx, run.RfpID, model.StatusExtracting); err != nil {
		m.fail(ctx, run, "Analysis could not be started.", err)
		return
	}

	result, err := m.client.Extract(ctx, extractor.Request{
		DocumentText:  string(doc),
		PromptVersion: run.PromptVersion,
		SchemaVersion: run.SchemaVersion,
		Model:         run.ModelName,
		Temperature:   run.Params.Temperature,
		TopP:          run.Params.TopP,
		MaxTokens:     run.Params.MaxTokens,
	})
	if err != nil {
		m.fail(ctx, run, "Requirement extraction failed. Try re-running the analysis.",
			eris.Wrap(err, "extraction: extract"))
		return
	}

	candidates := make([]model.RequirementCandidate, 0, len(result.Candidates))
	for _, rec := range result.Candidates {
		candidates = append(candidates, model.RequirementCandidate{
			ID:                uuid.NewString(),
			RunID:             run.ID,
			ReqKey:            rec.ReqKey,
			Text:              rec.Text,
			Category:          normalizeCategory(rec.Category),
			Confidence:        rec.Confidence,
			SourceParagraphID: rec.SourceParagraphID,
			SourceSection:     rec.SourceSection,
			SourceQuote:       rec.SourceQuote,
			IsAmbiguous:       rec.IsAmbiguous,
			DuplicateRefs:     rec.DuplicateRefs,
			Status:            model.CandidateProposed,
		})
	}

	now := time.Now().UTC()
	run.ModelVersion = result.ModelVersion
	run.Status = model.RunCompleted
	run.Stats = computeStats(candidates)
	run.CompletedAt = &now

	m.locks.Lock(run.RfpID)
	err = func() error {
		if err := m.store.CompleteRun(ctx, run, candidates); err != nil {
			return eris.Wrap(err, "extraction: complete run")
		}
		return m.transitionLocked(ctx, run.RfpID, model.StatusExtracted)
	}()
	m.locks.Unlock(run.RfpID)
	if err != nil {
		m.fail(ctx, run, "Analysis results could not be saved.", err)
		return
	}

	zap.L().Info("extraction: run completed",
		zap.String("rfp_id", run.RfpID),
		zap.String("run_id", run.ID),
		zap.Int("candidates", run.Stats.CandidateCount),
		zap.Float64("avg_confidence", run.Stats.AvgConfidence))

	m.publish(RunEvent{
		RfpID:  run.RfpID,
		RunID:  run.ID,
		Status: model.RunCompleted,
		Stats:  run.Stats,
	})
}

// fail records the terminal failure on both the run and the RFP. The user
// message stays free of internal detail; diagnostics go to the dev field.
func (m *Manager) fail(ctx context.Context, run *model.ExtractionRun, userMsg string, cause error) {
	zap.L().Error("extraction: run failed",
		zap.String("rfp_id", run.RfpID),
		zap.String("run_id", run.ID),
		zap.Error(cause))

	now := time.Now().UTC()
	run.Status = model.RunFailed
	run.IsActive = false
	run.FailureReason = userMsg
	run.FailureReasonDev = eris.ToString(cause, true)
	run.CompletedAt = &now
	if err := m.store.UpdateRun(ctx, run); err != nil {
		zap.L().Error("extraction: persist failed run", zap.Error(err))
	}

	m.locks.Lock(run.RfpID)
	defer m.locks.Unlock(run.RfpID)

	rfp, err := m.store.GetRfp(ctx, run.RfpID)
	if err != nil {
		zap.L().Error("extraction: load rfp for failure", zap.Error(err))
		return
	}
	// The table admits FAILED from every state a run drives the RFP through;
	// an illegal move here means the committed state is not one of those, so
	// record the invariant breach instead of forcing the status.
	if terr := status.Transition(rfp, model.StatusFailed); terr != nil {
		zap.L().Error("extraction: rfp not movable to FAILED",
			zap.String("rfp_id", rfp.ID),
			zap.String("status", string(rfp.Status)),
			zap.Error(terr))
	} else {
		rfp.FailureReason = userMsg
		rfp.FailureReasonDev = run.FailureReasonDev
		rfp.UpdatedAt = time.Now().UTC()
		if err := m.store.UpdateRfp(ctx, rfp); err != nil {
			zap.L().Error("extraction: persist failed rfp", zap.Error(err))
		}
	}

	m.publish(RunEvent{
		RfpID:         run.RfpID,
		RunID:         run.ID,
		Status:        model.RunFailed,
		FailureReason: userMsg,
	})
}

// advance moves the RFP one step along the run sub-sequence, taking the lock.
func (m *Manager) advance(ctx context.Context, rfpID string, to model.RfpStatus) error {
	m.locks.Lock(rfpID)
	defer m.locks.Unlock(rfpID)
	return m.transitionLocked(ctx, rfpID, to)
}

func (m *Manager) transitionLocked(ctx context.Context, rfpID string, to model.RfpStatus) error {
	rfp, err := m.store.GetRfp(ctx, rfpID)
	if err != nil {
		return eris.Wrap(err, "extraction: load rfp")
	}
	if err := status.Transition(rfp, to); err != nil {
		return err
	}
	rfp.UpdatedAt = time.Now().UTC()
	return eris.Wrap(m.store.UpdateRfp(ctx, rfp), "extraction: update rfp")
}

// Subscribe returns a channel receiving the terminal event of the RFP's next
// run. The channel is buffered and closed after delivery. Canceling ctx
// releases the subscription if no event has been delivered yet, so a watcher
// on an RFP that never runs does not pin its channel forever.
func (m *Manager) Subscribe(ctx context.Context, rfpID string) <-chan RunEvent {
	ch := make(chan RunEvent, 1)
	m.mu.Lock()
	m.subs[rfpID] = append(m.subs[rfpID], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.unsubscribe(rfpID, ch)
	}()
	return ch
}

// unsubscribe drops one channel from the RFP's subscriber list. A channel
// already delivered to by publish is gone from the map and left alone.
func (m *Manager) unsubscribe(rfpID string, ch chan RunEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subs[rfpID]
	for i, s := range subs {
		if s != ch {
			continue
		}
		m.subs[rfpID] = append(subs[:i], subs[i+1:]...)
		if len(m.subs[rfpID]) == 0 {
			delete(m.subs, rfpID)
		}
		close(ch)
		return
	}
}

func (m *Manager) publish(ev RunEvent) {
	m.mu.Lock()
	subs := m.subs[ev.RfpID]
	delete(m.subs, ev.RfpID)
	m.mu.Unlock()

	for _, ch := range subs {
		ch <- ev
		close(ch)
	}

	if m.cfg.WebhookURL != "" {
		m.notifyWebhook(ev)
	}
}

// notifyWebhook POSTs the terminal event to the configured endpoint so
// downstream automations need not poll. Delivery is best-effort.
func (m *Manager) notifyWebhook(ev RunEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	resp, err := m.webhk.Post(m.cfg.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		zap.L().Warn("extraction: webhook delivery failed",
			zap.String("rfp_id", ev.RfpID), zap.Error(err))
		return
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 300 {
		zap.L().Warn("extraction: webhook rejected",
			zap.String("rfp_id", ev.RfpID), zap.Int("status", resp.StatusCode))
	}
}

func computeStats(candidates []model.RequirementCandidate) *model.RunStats {
	stats := &model.RunStats{CandidateCount: len(candidates)}
	if len(candidates) == 0 {
		return stats
	}
	var sum float64
	for _, c := range candidates {
		if c.IsAmbiguous {
			stats.AmbiguousCount++
		}
		sum += c.Confidence
	}
	stats.AvgConfidence = sum / float64(len(candidates))
	return stats
}

func normalizeCategory(raw string) model.Category {
	switch model.Category(raw) {
	case model.CategoryFunctional, model.CategoryNonFunctional, model.CategoryConstraint:
		return model.Category(raw)
	}
	// Unrecognized labels degrade to the broadest bucket rather than failing
	// the whole run.
	return model.CategoryFunctional
}
