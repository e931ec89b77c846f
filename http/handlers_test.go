package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"treatpredict/db"
	"treatpredict/ml"
	"treatpredict/monitoring"
	"treatpredict/predictor"
	"treatpredict/schema"
)

func loadHolder(t *testing.T) *predictor.Holder {
	t.Helper()
	svc, err := predictor.Load(predictor.Artifacts{
		ColumnsPath: filepath.Join("..", "predictor", "testdata", "columns.json"),
		ModelPath:   filepath.Join("..", "predictor", "testdata", "model.json"),
		ModelType:   ml.TypeGradientBoosting,
	}, nil)
	require.NoError(t, err)
	return predictor.NewHolder(svc)
}

type testEnv struct {
	handler http.Handler
	store   *db.Store
	metrics *monitoring.MetricsCollector
}

func newTestEnv(t *testing.T, p Predictor) *testEnv {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	metrics := monitoring.NewMetricsCollector()
	handler := NewHandler(DefaultServerConfig(), Deps{
		Predictor: p,
		Store:     store,
		Metrics:   metrics,
	})
	return &testEnv{handler: handler, store: store, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload), w.Body.String())
	return w, payload
}

func predictQuery(overrides map[string]string) string {
	values := url.Values{
		"age_at_diagnosis":      {"55"},
		"ajcc_pathologic_stage": {"2"},
		"cancer_category":       {"IDC"},
		"diagnosis_method":      {"Needle Biopsy"},
		"treatment_category":    {"Chemotherapy"},
	}
	for k, v := range overrides {
		if v == "" {
			values.Del(k)
			continue
		}
		values.Set(k, v)
	}
	return values.Encode()
}

func TestCategoryRoutes(t *testing.T) {
	env := newTestEnv(t, loadHolder(t))

	tests := []struct {
		path string
		key  string
		want []interface{}
	}{
		{"/get_cancer_categories", "cancer_categories", []interface{}{"idc"}},
		{"/get_diagnosis_methods", "diagnosis_methods", []interface{}{"needle biopsy"}},
		{"/get_treatment_categories", "treatment_categories", []interface{}{"chemotherapy"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w, payload := env.do(t, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.want, payload[tt.key])
		})
	}
}

func TestCategoriesByDomain(t *testing.T) {
	env := newTestEnv(t, loadHolder(t))

	w, payload := env.do(t, httptest.NewRequest(http.MethodGet, "/api/categories/Diagnosis", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "diagnosis", payload["domain"])
	assert.Equal(t, []interface{}{"needle biopsy"}, payload["categories"])

	w, payload = env.do(t, httptest.NewRequest(http.MethodGet, "/api/categories/stage", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, payload["error"], "unknown category domain")
}

func TestStageLabelRoute(t *testing.T) {
	env := newTestEnv(t, loadHolder(t))

	tests := []struct {
		query  string
		status int
		label  interface{}
	}{
		{"stage=0", http.StatusOK, "Stage I"},
		{"stage=9", http.StatusOK, "Stage IIIC"},
		{"stage=11", http.StatusOK, "Stage X"},
		{"stage=12", http.StatusOK, schema.UnknownStage},
		{"stage=-1", http.StatusOK, schema.UnknownStage},
		{"stage=abc", http.StatusBadRequest, nil},
		{"", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w, payload := env.do(t, httptest.NewRequest(http.MethodGet, "/get_stage_label?"+tt.query, nil))
			assert.Equal(t, tt.status, w.Code)
			if tt.label != nil {
				assert.Equal(t, tt.label, payload["stage_label"])
			} else {
				assert.NotEmpty(t, payload["error"])
			}
		})
	}
}

func TestPredictQuery(t *testing.T) {
	env := newTestEnv(t, loadHolder(t))

	w, payload := env.do(t, httptest.NewRequest(http.MethodGet, "/predict_treatment?"+predictQuery(nil), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Needs Treatment/Therapy", payload["prediction"])
	assert.Empty(t, payload["warnings"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	assert.Equal(t, 1.0, env.metrics.Counter(monitoring.MetricPredictions, "outcome", "Needs Treatment/Therapy"))

	records, err := env.store.RecentPredictions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "IDC", records[0].CancerCategory)
	assert.Equal(t, 1, records[0].Label)
}

func TestPredictUnknownCategoryWarns(t *testing.T) {
	env := newTestEnv(t, loadHolder(t))

	query := predictQuery(map[string]string{"age_at_diagnosis": "30", "treatment_category": "Surgery"})
	w, payload := env.do(t, httptest.NewRequest(http.MethodGet, "/predict_treatment?"+query, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "No Treatment Required", payload["prediction"])

	warnings, ok := payload["warnings"].([]interface{})
	require.True(t, ok)
	require.Len(t, warnings, 1)
	warning := warnings[0].(map[string]interface{})
	assert.Equal(t, "treatment", warning["domain"])
	assert.Equal(t, "treatment_category_surgery", warning["column"])

	assert.Equal(t, 1.0, env.metrics.Counter(monitoring.MetricUnrecognized, "domain", "treatment"))
}

func TestPredictPassesCategoriesVerbatim(t *testing.T) {
	env := newTestEnv(t, loadHolder(t))

	tests := []struct {
		name   string
		cancer string
		column string
	}{
		{"empty", "", "cancer_category_"},
		{"blank", "   ", "cancer_category_   "},
		{"padded", " IDC ", "cancer_category_ idc "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(predictQuery(nil))
			require.NoError(t, err)
			values.Set("cancer_category", tt.cancer)

			w, payload := env.do(t, httptest.NewRequest(http.MethodGet, "/predict_treatment?"+values.Encode(), nil))
			require.Equal(t, http.StatusOK, w.Code, payload)
			assert.Equal(t, "Needs Treatment/Therapy", payload["prediction"])

			warnings, ok := payload["warnings"].([]interface{})
			require.True(t, ok)
			require.Len(t, warnings, 1)
			warning := warnings[0].(map[string]interface{})
			assert.Equal(t, "cancer", warning["domain"])
			assert.Equal(t, tt.cancer, warning["value"])
			assert.Equal(t, tt.column, warning["column"])
		})
	}
}

func TestPredictBodies(t *testing.T) {
	env := newTestEnv(t, loadHolder(t))

	form := httptest.NewRequest(http.MethodPost, "/predict_treatment", strings.NewReader(predictQuery(nil)))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body := `{"age_at_diagnosis": 55, "ajcc_pathologic_stage": 2, "cancer_category": "idc",
		"diagnosis_method": "needle biopsy", "treatment_category": "chemotherapy"}`
	jsonReq := httptest.NewRequest(http.MethodPost, "/predict_treatment", strings.NewReader(body))
	jsonReq.Header.Set("Content-Type", "application/json; charset=utf-8")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	values, _ := url.ParseQuery(predictQuery(nil))
	for k := range values {
		require.NoError(t, mw.WriteField(k, values.Get(k)))
	}
	require.NoError(t, mw.Close())
	multi := httptest.NewRequest(http.MethodPost, "/predict_treatment", &buf)
	multi.Header.Set("Content-Type", mw.FormDataContentType())

	for name, req := range map[string]*http.Request{"form": form, "json": jsonReq, "multipart": multi} {
		t.Run(name, func(t *testing.T) {
			w, payload := env.do(t, req)
			require.Equal(t, http.StatusOK, w.Code, payload)
			assert.Equal(t, "Needs Treatment/Therapy", payload["prediction"])
		})
	}
}

func TestPredictRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, loadHolder(t))

	tests := []struct {
		name      string
		overrides map[string]string
	}{
		{"missing age", map[string]string{"age_at_diagnosis": ""}},
		{"missing category", map[string]string{"diagnosis_method": ""}},
		{"age not a number", map[string]string{"age_at_diagnosis": "old"}},
		{"negative age", map[string]string{"age_at_diagnosis": "-3"}},
		{"nan age", map[string]string{"age_at_diagnosis": "NaN"}},
		{"stage not an int", map[string]string{"ajcc_pathologic_stage": "2.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, payload := env.do(t, httptest.NewRequest(http.MethodGet, "/predict_treatment?"+predictQuery(tt.overrides), nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, payload["error"])
		})
	}
	assert.Equal(t, float64(len(tests)), env.metrics.Counter(monitoring.MetricErrors, "kind", "bad_request"))

	bad := httptest.NewRequest(http.MethodPost, "/predict_treatment", strings.NewReader("{"))
	bad.Header.Set("Content-Type", "application/json")
	w, _ := env.do(t, bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type failingPredictor struct {
	err error
}

func (f failingPredictor) Categories(schema.Domain) ([]string, error) { return nil, f.err }
func (f failingPredictor) StageLabel(code int) string { return schema.StageLabel(code) }
func (f failingPredictor) Predict(context.Context, predictor.Input) (predictor.Result, error) {
	return predictor.Result{Label: predictor.LabelNone, Outcome: predictor.LabelNone.Outcome()}, f.err
}

func TestPredictErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"schema incompatible", &predictor.SchemaIncompatibilityError{Missing: []string{schema.AgeColumn}}, http.StatusInternalServerError},
		{"not initialized", predictor.ErrNotInitialized, http.StatusServiceUnavailable},
		{"model failure", errors.New("inference: boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, failingPredictor{err: tt.err})
			w, payload := env.do(t, httptest.NewRequest(http.MethodGet, "/predict_treatment?"+predictQuery(nil), nil))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "Prediction Error", payload["prediction"])
			assert.Equal(t, tt.err.Error(), payload["error"])

			records, err := env.store.RecentPredictions(context.Background(), 1)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, -1, records[0].Label)
			assert.Equal(t, tt.err.Error(), records[0].Error)
		})
	}
}

func TestHealthAndCategoriesWhenNotLoaded(t *testing.T) {
	env := newTestEnv(t, predictor.NewHolder(nil))

	w, payload := env.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", payload["status"])

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/get_cancer_categories", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, payload = env.do(t, httptest.NewRequest(http.MethodGet, "/predict_treatment?"+predictQuery(nil), nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Prediction Error", payload["prediction"])
}

func TestRecentPredictionsAndMetrics(t *testing.T) {
	env := newTestEnv(t, loadHolder(t))
	for i := 0; i < 3; i++ {
		env.do(t, httptest.NewRequest(http.MethodGet, "/predict_treatment?"+predictQuery(nil), nil))
	}

	w, payload := env.do(t, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, payload["predictions"], 2)
	assert.Equal(t, map[string]interface{}{"Needs Treatment/Therapy": 3.0}, payload["totals"])

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, payload = env.do(t, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, payload["metrics"])
}

func TestOptionalDepsDisabled(t *testing.T) {
	handler := NewHandler(DefaultServerConfig(), Deps{Predictor: loadHolder(t)})

	for _, path := range []string{"/api/metrics", "/api/predictions"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/predict_treatment?"+predictQuery(nil), nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, loadHolder(t))

	req := httptest.NewRequest(http.MethodOptions, "/predict_treatment", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestPredictionsStreamOverWebsocket(t *testing.T) {
	hub := monitoring.NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	server := httptest.NewServer(NewHandler(DefaultServerConfig(), Deps{Predictor: loadHolder(t), Hub: hub}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/api/ws/predictions", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(server.URL + "/predict_treatment?" + predictQuery(nil))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg monitoring.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, monitoring.PredictionEvent, msg.Type)

	var rec db.PredictionRecord
	require.NoError(t, json.Unmarshal(msg.Data, &rec))
	assert.Equal(t, "Needs Treatment/Therapy", rec.Outcome)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}
