// Package http is the thin transport over the grading engine. Handlers
// translate between JSON and engine calls; all policy lives below.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mind-engage/peergrade/internal/auth"
	"github.com/mind-engage/peergrade/internal/peer"
	"github.com/mind-engage/peergrade/internal/rubric"
	"github.com/mind-engage/peergrade/internal/selfassess"
	"github.com/mind-engage/peergrade/internal/submission"
	"github.com/mind-engage/peergrade/internal/workflow"
)

// API bundles the services behind the routes plus the per-problem grading
// configuration, which the gateway keeps in memory (the embedding host owns
// durable problem definitions).
type API struct {
	Peers *peer.Service
	Self  *selfassess.Service
	Flow  *workflow.Service
	Subs  submission.Store

	// Defaults fills requirement fields a problem definition leaves at zero.
	Defaults peer.Requirements

	mu       sync.RWMutex
	problems map[string]problemConfig // item_id -> config
}

type problemConfig struct {
	Rubric       rubric.Rubric
	Requirements peer.Requirements
	Steps        []string
}

func NewAPI(peers *peer.Service, self *selfassess.Service, flow *workflow.Service, subs submission.Store, defaults peer.Requirements) *API {
	return &API{Peers: peers, Self: self, Flow: flow, Subs: subs, Defaults: defaults, problems: map[string]problemConfig{}}
}

// Mount attaches all routes. Caller wraps with auth middleware; staff-only
// routes are gated here.
func (a *API) Mount(r chi.Router) {
	r.With(auth.RequireRole("staff")).Post("/problems", a.putProblem)
	r.Post("/submissions", a.createSubmission)
	r.Get("/submissions/{uuid}", a.getSubmission)
	r.Get("/submissions/{uuid}/score", a.getScore)
	r.Get("/submissions/{uuid}/status", a.getStatus)
	r.Post("/submissions/{uuid}/self", a.submitSelf)
	r.With(auth.RequireRole("staff")).Post("/submissions/{uuid}/staff", a.submitStaff)
	r.Post("/workflows", a.startWorkflow)
	r.Get("/workflows/{uuid}/status", a.getStatus)
	r.Get("/workflows/{uuid}/peer/next", a.nextToReview)
	r.Post("/workflows/{uuid}/peer/assessments", a.submitReview)
	r.Get("/workflows/{uuid}/done", a.reviewerDone)
	r.With(auth.RequireRole("staff")).Post("/workflows/{uuid}/cancel", a.cancel)
}

/* ---------------- problems ---------------- */

type putProblemReq struct {
	ItemID                string             `json:"item_id"`
	Criteria              []rubric.Criterion `json:"criteria"`
	MustGrade             int                `json:"must_grade"`
	MustBeGradedBy        int                `json:"must_be_graded_by"`
	EnableFlexibleGrading bool               `json:"enable_flexible_grading,omitempty"`
	Steps                 []string           `json:"steps,omitempty"`
}

func (a *API) putProblem(w http.ResponseWriter, r *http.Request) {
	var req putProblemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ItemID) == "" {
		http.Error(w, "item_id required", http.StatusBadRequest)
		return
	}
	rb, err := rubric.New(req.Criteria)
	if err != nil {
		http.Error(w, "invalid rubric: "+err.Error(), http.StatusBadRequest)
		return
	}
	steps := req.Steps
	if len(steps) == 0 {
		steps = []string{workflow.StepPeer}
	}
	reqs := peer.Requirements{
		MustGrade:             req.MustGrade,
		MustBeGradedBy:        req.MustBeGradedBy,
		EnableFlexibleGrading: req.EnableFlexibleGrading,
	}
	if reqs.MustGrade == 0 {
		reqs.MustGrade = a.Defaults.MustGrade
	}
	if reqs.MustBeGradedBy == 0 {
		reqs.MustBeGradedBy = a.Defaults.MustBeGradedBy
	}
	a.mu.Lock()
	a.problems[req.ItemID] = problemConfig{Rubric: rb, Requirements: reqs, Steps: steps}
	a.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]string{"item_id": req.ItemID, "rubric_hash": rb.ContentHash()})
}

func (a *API) problemFor(itemID string) (problemConfig, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cfg, ok := a.problems[itemID]
	return cfg, ok
}

func (a *API) problemForSubmission(r *http.Request, subUUID string) (problemConfig, submission.Submission, bool, error) {
	sub, err := a.Subs.Get(r.Context(), subUUID)
	if err != nil {
		return problemConfig{}, submission.Submission{}, false, err
	}
	cfg, ok := a.problemFor(sub.ItemID)
	return cfg, sub, ok, nil
}

/* ---------------- submissions ---------------- */

type createSubmissionReq struct {
	CourseID string `json:"course_id"`
	ItemID   string `json:"item_id"`
	Answer   string `json:"answer"`
}

func (a *API) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req createSubmissionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := a.problemFor(req.ItemID); !ok {
		http.Error(w, "unknown item "+req.ItemID, http.StatusBadRequest)
		return
	}
	sub := submission.Submission{
		UUID:        uuid.NewString(),
		AuthorID:    auth.SubjectFromContext(r.Context()),
		CourseID:    req.CourseID,
		ItemID:      req.ItemID,
		Answer:      req.Answer,
		SubmittedAt: time.Now().UTC(),
	}
	if err := a.Subs.Create(r.Context(), sub); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := a.Peers.StartWorkflow(r.Context(), sub.UUID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(sub)
}

// startWorkflow registers an existing submission with the peer engine.
// POST /submissions already does this; this route serves hosts that bring
// their own submission ingestion.
func (a *API) startWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubmissionUUID string `json:"submission_uuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubmissionUUID == "" {
		http.Error(w, "submission_uuid required", http.StatusBadRequest)
		return
	}
	wf, err := a.Peers.StartWorkflow(r.Context(), req.SubmissionUUID)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(wf)
}

func (a *API) getSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := a.Subs.Get(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(sub)
}

/* ---------------- peer review ---------------- */

func (a *API) nextToReview(w http.ResponseWriter, r *http.Request) {
	reviewerUUID := chi.URLParam(r, "uuid")
	cfg, _, ok, err := a.problemForSubmission(r, reviewerUUID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		http.Error(w, "no problem config for item", http.StatusConflict)
		return
	}
	sub, err := a.Peers.GetSubmissionToReview(r.Context(), reviewerUUID, cfg.Requirements)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sub == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	// Never leak the author's identity to the reviewer.
	_ = json.NewEncoder(w).Encode(map[string]any{
		"submission_uuid": sub.UUID,
		"answer":          sub.Answer,
		"submitted_at":    sub.SubmittedAt,
	})
}

type assessmentReq struct {
	OptionsSelected map[string]string `json:"options_selected"`
	// PointsSelected is the point-based alternative used by callers that
	// record scores rather than option names (e.g. training replay). Ignored
	// when OptionsSelected is present.
	PointsSelected    map[string]int    `json:"points_selected,omitempty"`
	CriterionFeedback map[string]string `json:"criterion_feedback,omitempty"`
	OverallFeedback   string            `json:"overall_feedback,omitempty"`
}

// selections resolves the request to option names, translating a points-based
// submission through the rubric index.
func (req assessmentReq) selections(r rubric.Rubric) (map[string]string, error) {
	if len(req.OptionsSelected) > 0 || len(req.PointsSelected) == 0 {
		return req.OptionsSelected, nil
	}
	idx := rubric.Default.Get(r)
	selected := make(map[string]string, len(req.PointsSelected))
	for name, points := range req.PointsSelected {
		opt, err := idx.FindOptionForPoints(name, points)
		if err != nil {
			return nil, err
		}
		selected[name] = opt.Name
	}
	return selected, nil
}

func (a *API) submitReview(w http.ResponseWriter, r *http.Request) {
	reviewerUUID := chi.URLParam(r, "uuid")
	cfg, _, ok, err := a.problemForSubmission(r, reviewerUUID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		http.Error(w, "no problem config for item", http.StatusConflict)
		return
	}
	var req assessmentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	selected, err := req.selections(cfg.Rubric)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	assessment, err := a.Peers.SubmitReview(r.Context(), reviewerUUID, auth.SubjectFromContext(r.Context()),
		selected, req.CriterionFeedback, req.OverallFeedback, cfg.Rubric, cfg.Requirements)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(assessment)
}

func (a *API) reviewerDone(w http.ResponseWriter, r *http.Request) {
	reviewerUUID := chi.URLParam(r, "uuid")
	cfg, _, ok, err := a.problemForSubmission(r, reviewerUUID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		http.Error(w, "no problem config for item", http.StatusConflict)
		return
	}
	mustGrade := cfg.Requirements.MustGrade
	if v := r.URL.Query().Get("must_grade"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			mustGrade = n
		}
	}
	done, count, err := a.Peers.IsReviewerDone(r.Context(), reviewerUUID, mustGrade)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"done": done, "count": count})
}

func (a *API) cancel(w http.ResponseWriter, r *http.Request) {
	if err := a.Peers.Cancel(r.Context(), chi.URLParam(r, "uuid")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ---------------- self / staff ---------------- */

func (a *API) submitSelf(w http.ResponseWriter, r *http.Request) {
	a.submitPassThrough(w, r, false)
}

func (a *API) submitStaff(w http.ResponseWriter, r *http.Request) {
	a.submitPassThrough(w, r, true)
}

func (a *API) submitPassThrough(w http.ResponseWriter, r *http.Request, staff bool) {
	subUUID := chi.URLParam(r, "uuid")
	cfg, _, ok, err := a.problemForSubmission(r, subUUID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		http.Error(w, "no problem config for item", http.StatusConflict)
		return
	}
	var req assessmentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	selected, err := req.selections(cfg.Rubric)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	scorer := auth.SubjectFromContext(r.Context())
	var assessment peer.Assessment
	if staff {
		assessment, err = a.Self.SubmitStaff(r.Context(), subUUID, scorer, selected, req.CriterionFeedback, req.OverallFeedback, cfg.Rubric)
	} else {
		assessment, err = a.Self.Submit(r.Context(), subUUID, scorer, selected, req.CriterionFeedback, req.OverallFeedback, cfg.Rubric)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(assessment)
}

/* ---------------- status / score ---------------- */

func (a *API) getScore(w http.ResponseWriter, r *http.Request) {
	subUUID := chi.URLParam(r, "uuid")
	cfg, _, ok, err := a.problemForSubmission(r, subUUID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		http.Error(w, "no problem config for item", http.StatusConflict)
		return
	}
	score, err := a.Flow.Score(r.Context(), subUUID, a.flowConfig(cfg))
	if err != nil {
		writeErr(w, err)
		return
	}
	if score == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_ = json.NewEncoder(w).Encode(score)
}

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	subUUID := chi.URLParam(r, "uuid")
	cfg, _, ok, err := a.problemForSubmission(r, subUUID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		http.Error(w, "no problem config for item", http.StatusConflict)
		return
	}
	status, err := a.Flow.Status(r.Context(), subUUID, a.flowConfig(cfg))
	if err != nil {
		writeErr(w, err)
		return
	}
	stats, err := a.Peers.Stats(r.Context(), subUUID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "reviews": stats})
}

func (a *API) flowConfig(cfg problemConfig) workflow.Config {
	return workflow.Config{Steps: cfg.Steps, Requirements: cfg.Requirements, Rubric: cfg.Rubric}
}

/* ---------------- error mapping ---------------- */

func writeErr(w http.ResponseWriter, err error) {
	var reqErr *peer.RequestError
	var wfErr *peer.WorkflowError
	switch {
	case errors.Is(err, submission.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &reqErr):
		http.Error(w, reqErr.Error(), http.StatusBadRequest)
	case errors.As(err, &wfErr):
		http.Error(w, wfErr.Error(), http.StatusConflict)
	default:
		// InternalError details were already logged by the engine.
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
