package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
)

// defaultAlertWindow bounds the alert listing when no cutoff is given.
const defaultAlertWindow = 7 * 24 * time.Hour

// listPageMax caps catalog page sizes.
const listPageMax = 100

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s", model.ErrInvalidArgument, name)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: missing %s", model.ErrInvalidArgument, name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s", model.ErrInvalidArgument, name)
	}
	return id, nil
}

func queryIDDefault(r *http.Request, name string, def int64) int64 {
	if raw := r.URL.Query().Get(name); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return id
		}
	}
	return def
}

// --- profiles ---

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var p model.Profile
	if err := decode(r, &p); err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.stores.Profiles.SaveProfile(r.Context(), &p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profile":     p,
		"snapshot_id": snap.SnapshotID,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.stores.Profiles.GetProfile(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- colleges ---

func (s *Server) handleListColleges(w http.ResponseWriter, r *http.Request) {
	after := queryIDDefault(r, "after", 0)
	limit := int(queryIDDefault(r, "limit", 50))
	if limit <= 0 || limit > listPageMax {
		limit = 50
	}
	colleges, err := s.stores.Colleges.ListColleges(r.Context(), after, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	var next int64
	if len(colleges) == limit {
		next = colleges[len(colleges)-1].CollegeID
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"colleges":    colleges,
		"next_cursor": next,
	})
}

func (s *Server) handleGetCollege(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.stores.Colleges.GetCollege(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- fit ---

type classifyRequest struct {
	ProfileID int64 `json:"profile_id"`
	CollegeID int64 `json:"college_id"`
}

func (s *Server) handleClassifyFit(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	fit, err := s.classifier.ClassifyFit(r.Context(), req.ProfileID, req.CollegeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fit)
}

type batchRequest struct {
	ProfileID  int64   `json:"profile_id"`
	CollegeIDs []int64 `json:"college_ids"`
}

func (s *Server) handleClassifyBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.BatchTimeout)
	defer cancel()
	out, err := s.classifier.ClassifyFitBatch(ctx, req.ProfileID, req.CollegeIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type weightsRequest struct {
	UserID  int64            `json:"user_id"`
	Weights model.FitWeights `json:"weights"`
}

func (s *Server) handleSetWeights(w http.ResponseWriter, r *http.Request) {
	var req weightsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.classifier.SetUserWeights(r.Context(), req.UserID, req.Weights); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"weights": req.Weights})
}

type overrideRequest struct {
	UserID    int64  `json:"user_id"`
	CollegeID int64  `json:"college_id"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
}

func (s *Server) handleOverrideFit(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	fit, err := s.classifier.OverrideFit(r.Context(), req.UserID, req.CollegeID,
		model.FitCategory(req.Category), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fit)
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		writeError(w, err)
		return
	}
	collegeID, err := queryID(r, "college_id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.classifier.ClearOverride(r.Context(), userID, collegeID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- chancing ---

func (s *Server) handleCalculateChance(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.calculator.Calculate(r.Context(), req.ProfileID, req.CollegeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChanceBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.BatchTimeout)
	defer cancel()
	out, err := s.calculator.CalculateBatch(ctx, req.ProfileID, req.CollegeIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type scenarioRequest struct {
	ProfileID  int64                 `json:"profile_id"`
	Changes    model.ScenarioChanges `json:"changes"`
	CollegeIDs []int64               `json:"college_ids"`
}

func (s *Server) handleScenario(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.ScenarioTimeout)
	defer cancel()
	out, err := s.calculator.Scenario(ctx, req.ProfileID, req.Changes, req.CollegeIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type saveHistoryRequest struct {
	UserID    int64                `json:"user_id"`
	CollegeID int64                `json:"college_id"`
	Chance    float64              `json:"chance"`
	Category  model.ChanceCategory `json:"category"`
	Factors   []model.ChanceFactor `json:"factors,omitempty"`
}

func (s *Server) handleSaveChanceHistory(w http.ResponseWriter, r *http.Request) {
	var req saveHistoryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.calculator.SaveHistory(r.Context(), req.UserID, req.CollegeID,
		req.Chance, req.Category, req.Factors)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"history_id": id})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.calculator.Compare(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- tasks ---

type decomposeRequest struct {
	UserID    int64 `json:"user_id"`
	CollegeID int64 `json:"college_id"`
}

func (s *Server) handleDecompose(w http.ResponseWriter, r *http.Request) {
	var req decomposeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.decomposer.CreateApplicationTasks(r.Context(), req.UserID, req.CollegeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": created})
}

type statusRequest struct {
	Status model.TaskStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

func (s *Server) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	task, unblocked, err := s.decomposer.UpdateStatus(r.Context(), id, req.Status, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task":      task,
		"unblocked": unblocked,
	})
}

func (s *Server) handleBlockedTasks(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		writeError(w, err)
		return
	}
	blocked, err := s.decomposer.GetBlocked(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": blocked})
}

func (s *Server) handleCriticalPath(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		writeError(w, err)
		return
	}
	collegeID, err := queryID(r, "college_id")
	if err != nil {
		writeError(w, err)
		return
	}
	path, err := s.decomposer.GetCriticalPath(r.Context(), userID, collegeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

type dependencyRequest struct {
	UserID     int64                `json:"user_id"`
	Dependency model.TaskDependency `json:"dependency"`
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req dependencyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.decomposer.AddDependency(r.Context(), req.UserID, &req.Dependency); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req.Dependency)
}

// --- risk ---

func (s *Server) handleAssessRisk(w http.ResponseWriter, r *http.Request) {
	var req decomposeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	assessment, err := s.riskEngine.CalculateRisk(r.Context(), req.UserID, req.CollegeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (s *Server) handleRiskOverview(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		writeError(w, err)
		return
	}
	overview, err := s.riskEngine.GetOverview(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleSyncDeadlines(w http.ResponseWriter, r *http.Request) {
	var req decomposeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.riskEngine.SyncFromCollegeDeadlines(r.Context(), req.UserID, req.CollegeID); err != nil {
		writeError(w, err)
		return
	}
	deadlines, err := s.stores.Deadlines.ListDeadlines(r.Context(), req.UserID, req.CollegeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deadlines": deadlines})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		writeError(w, err)
		return
	}
	since := time.Now().UTC().Add(-defaultAlertWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: bad since timestamp", model.ErrInvalidArgument))
			return
		}
		since = parsed
	}
	alerts, err := s.stores.Deadlines.ListAlerts(r.Context(), userID, since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

// --- explain / outcomes ---

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		writeError(w, err)
		return
	}
	collegeID, err := queryID(r, "college_id")
	if err != nil {
		writeError(w, err)
		return
	}
	trace, err := s.ledger.Explain(r.Context(), userID, collegeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

type outcomeRequest struct {
	UserID          int64   `json:"user_id"`
	CollegeID       int64   `json:"college_id"`
	PredictedChance float64 `json:"predicted_chance"`
	Admitted        bool    `json:"admitted"`
}

func (s *Server) handleReportOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sample := &persistence.OutcomeSample{
		CollegeID:       req.CollegeID,
		UserID:          req.UserID,
		PredictedChance: req.PredictedChance,
		Admitted:        req.Admitted,
	}
	if err := s.stores.Models.AppendOutcome(r.Context(), sample); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sample)
}
