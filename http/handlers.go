package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"treatpredict/db"
	"treatpredict/monitoring"
	"treatpredict/predictor"
	"treatpredict/schema"
)

// Form field names accepted by the predict endpoint.
const (
	fieldAge       = "age_at_diagnosis"
	fieldStage     = "ajcc_pathologic_stage"
	fieldCancer    = "cancer_category"
	fieldDiagnosis = "diagnosis_method"
	fieldTreatment = "treatment_category"
)

const defaultRecentLimit = 50

type handlers struct {
	deps   Deps
	logger *zap.Logger
}

// registerRoutes mounts the API routes on mux. Schema incompatibility and
// any other model failure map to 500 with the "Prediction Error" outcome.
func registerRoutes(mux *http.ServeMux, h *handlers) {
	mux.HandleFunc("GET /get_cancer_categories", h.categoryHandler(schema.DomainCancer, "cancer_categories"))
	mux.HandleFunc("GET /get_diagnosis_methods", h.categoryHandler(schema.DomainDiagnosis, "diagnosis_methods"))
	mux.HandleFunc("GET /get_treatment_categories", h.categoryHandler(schema.DomainTreatment, "treatment_categories"))
	mux.HandleFunc("GET /get_stage_label", h.handleStageLabel)
	mux.HandleFunc("GET /predict_treatment", h.handlePredict)
	mux.HandleFunc("POST /predict_treatment", h.handlePredict)

	mux.HandleFunc("GET /api/categories/{domain}", h.handleCategories)
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
	mux.HandleFunc("GET /api/predictions", h.handleRecent)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (h *handlers) observeError(kind string) {
	if h.deps.Metrics != nil {
		h.deps.Metrics.ObserveError(kind)
	}
}

func (h *handlers) categoryHandler(domain schema.Domain, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := h.deps.Predictor.Categories(domain)
		if err != nil {
			h.observeError("categories")
			h.logger.Error("listing categories failed", zap.String("domain", string(domain)), zap.Error(err))
			writeError(w, statusFor(err), err.Error())
			return
		}
		if categories == nil {
			categories = []string{}
		}
		respondJSON(w, http.StatusOK, map[string][]string{key: categories})
	}
}

// handleCategories serves any domain by its short name.
func (h *handlers) handleCategories(w http.ResponseWriter, r *http.Request) {
	domain, err := schema.ParseDomain(r.PathValue("domain"))
	if err != nil {
		h.observeError("bad_request")
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	categories, err := h.deps.Predictor.Categories(domain)
	if err != nil {
		h.observeError("categories")
		writeError(w, statusFor(err), err.Error())
		return
	}
	if categories == nil {
		categories = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"domain": domain, "categories": categories})
}

func (h *handlers) handleStageLabel(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("stage")
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		h.observeError("bad_request")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("stage must be an integer, got %q", raw))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"stage_label": h.deps.Predictor.StageLabel(code)})
}

type predictResponse struct {
	Prediction string              `json:"prediction"`
	Warnings   []predictor.Warning `json:"warnings"`
	Error      string              `json:"error,omitempty"`
}

func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(r)
	if err != nil {
		h.observeError("bad_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := parseInput(fields)
	if err != nil {
		h.observeError("bad_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	result, err := h.deps.Predictor.Predict(r.Context(), in)
	took := time.Since(start)

	h.audit(r.Context(), in, result, err)

	if err != nil {
		h.observeError("prediction")
		h.logger.Error("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err))
		respondJSON(w, statusFor(err), predictResponse{
			Prediction: predictor.LabelNone.Outcome(),
			Warnings:   []predictor.Warning{},
			Error:      err.Error(),
		})
		return
	}

	if h.deps.Metrics != nil {
		unrecognized := make([]string, 0, len(result.Warnings))
		for _, warning := range result.Warnings {
			unrecognized = append(unrecognized, string(warning.Domain))
		}
		h.deps.Metrics.ObservePrediction(result.Outcome, unrecognized, took)
	}

	warnings := result.Warnings
	if warnings == nil {
		warnings = []predictor.Warning{}
	}
	respondJSON(w, http.StatusOK, predictResponse{Prediction: result.Outcome, Warnings: warnings})
}

// audit stores the request and publishes it to websocket subscribers. Failures
// here never fail the request.
func (h *handlers) audit(ctx context.Context, in predictor.Input, result predictor.Result, predictErr error) {
	rec := db.PredictionRecord{
		Age:               in.Age,
		Stage:             in.Stage,
		CancerCategory:    in.CancerCategory,
		DiagnosisMethod:   in.DiagnosisMethod,
		TreatmentCategory: in.TreatmentCategory,
		Label:             int(result.Label),
		Outcome:           result.Outcome,
		CreatedAt:         time.Now().UTC(),
	}
	for _, warning := range result.Warnings {
		rec.Warnings = append(rec.Warnings, warning.String())
	}
	if predictErr != nil {
		rec.Label = int(predictor.LabelNone)
		rec.Outcome = predictor.LabelNone.Outcome()
		rec.Error = predictErr.Error()
	}

	if h.deps.Store != nil {
		id, err := h.deps.Store.SavePrediction(context.WithoutCancel(ctx), rec)
		if err != nil {
			h.logger.Warn("audit write failed", zap.Error(err))
		} else {
			rec.ID = id
		}
	}
	if h.deps.Hub != nil {
		if err := h.deps.Hub.Publish(monitoring.PredictionEvent, rec); err != nil {
			h.logger.Warn("publishing prediction failed", zap.Error(err))
		}
	}
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok"}
	if _, err := h.deps.Predictor.Categories(schema.DomainCancer); err != nil {
		status["status"] = "unavailable"
		status["error"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	if h.deps.Hub != nil {
		status["websocket_clients"] = h.deps.Hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.deps.Metrics == nil {
		writeError(w, http.StatusNotFound, "metrics are disabled")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"metrics": h.deps.Metrics.Snapshot()})
}

func (h *handlers) handleRecent(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusNotFound, "prediction audit is disabled")
		return
	}
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := h.deps.Store.RecentPredictions(r.Context(), limit)
	if err != nil {
		h.observeError("audit")
		h.logger.Error("reading audit trail failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reading audit trail failed")
		return
	}
	if records == nil {
		records = []db.PredictionRecord{}
	}
	totals, err := h.deps.Store.CountByOutcome(r.Context())
	if err != nil {
		h.observeError("audit")
		h.logger.Error("counting audit trail failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reading audit trail failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"predictions": records, "totals": totals})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, predictor.ErrNotInitialized), errors.Is(err, schema.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// readFields collects the predict fields from the query string, a form body
// or a JSON object body.
func readFields(r *http.Request) (map[string]string, error) {
	fields := make(map[string]string)
	if r.Method == http.MethodGet {
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
		return fields, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]interface{}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %v", err)
		}
		for k, v := range body {
			if v == nil {
				continue
			}
			fields[k] = fmt.Sprint(v)
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 10); err != nil {
			return nil, fmt.Errorf("invalid form body: %v", err)
		}
		for k, v := range r.Form {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %v", err)
		}
		for k, v := range r.Form {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
	}
	return fields, nil
}

func parseInput(fields map[string]string) (predictor.Input, error) {
	var in predictor.Input
	for _, name := range []string{fieldAge, fieldStage} {
		if strings.TrimSpace(fields[name]) == "" {
			return in, fmt.Errorf("missing field %s", name)
		}
	}
	// category values go through verbatim; an empty or unknown one only
	// produces a warning
	for _, name := range []string{fieldCancer, fieldDiagnosis, fieldTreatment} {
		if _, ok := fields[name]; !ok {
			return in, fmt.Errorf("missing field %s", name)
		}
	}

	age, err := strconv.ParseFloat(strings.TrimSpace(fields[fieldAge]), 64)
	if err != nil || math.IsNaN(age) || math.IsInf(age, 0) {
		return in, fmt.Errorf("%s must be a number, got %q", fieldAge, fields[fieldAge])
	}
	if age < 0 {
		return in, fmt.Errorf("%s must not be negative", fieldAge)
	}
	stage, err := strconv.Atoi(strings.TrimSpace(fields[fieldStage]))
	if err != nil {
		return in, fmt.Errorf("%s must be an integer, got %q", fieldStage, fields[fieldStage])
	}

	in.Age = age
	in.Stage = stage
	in.CancerCategory = fields[fieldCancer]
	in.DiagnosisMethod = fields[fieldDiagnosis]
	in.TreatmentCategory = fields[fieldTreatment]
	return in, nil
}
