package predictor

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treatpredict/ml"
	"treatpredict/schema"
)

func testdataArtifacts() Artifacts {
	return Artifacts{
		ColumnsPath: filepath.Join("testdata", "columns.json"),
		ModelPath:   filepath.Join("testdata", "model.json"),
		ModelType:   ml.TypeGradientBoosting,
	}
}

// copyArtifacts copies the testdata artifacts into a fresh directory.
func copyArtifacts(t *testing.T) Artifacts {
	t.Helper()
	dir := t.TempDir()
	src := testdataArtifacts()
	dst := Artifacts{
		ColumnsPath: filepath.Join(dir, "columns.json"),
		ModelPath:   filepath.Join(dir, "model.json"),
		ModelType:   src.ModelType,
	}
	for from, to := range map[string]string{src.ColumnsPath: dst.ColumnsPath, src.ModelPath: dst.ModelPath} {
		payload, err := os.ReadFile(from)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(to, payload, 0o600))
	}
	return dst
}

func TestLoadEndToEnd(t *testing.T) {
	svc, err := Load(testdataArtifacts(), nil)
	require.NoError(t, err)

	res, err := svc.Predict(context.Background(), Input{Age: 55, Stage: 2, CancerCategory: "IDC", DiagnosisMethod: "Needle Biopsy", TreatmentCategory: "Chemotherapy"})
	require.NoError(t, err)
	assert.Equal(t, LabelNeedsTreatment, res.Label)
	assert.Equal(t, []float64{55, 2, 1, 1, 1}, res.Vector)
	require.NotNil(t, res.Probability)
	assert.InDelta(t, 1/(1+math.Exp(-2.5)), *res.Probability, 1e-9)

	res, err = svc.Predict(context.Background(), Input{Age: 30, Stage: 0, CancerCategory: "IDC", DiagnosisMethod: "Needle Biopsy", TreatmentCategory: "Radiation"})
	require.NoError(t, err)
	assert.Equal(t, LabelNoTreatment, res.Label)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, schema.DomainTreatment, res.Warnings[0].Domain)
}

func TestLoadFailures(t *testing.T) {
	a := testdataArtifacts()
	a.ColumnsPath = filepath.Join(t.TempDir(), "missing.json")
	_, err := Load(a, nil)
	var schemaErr *schema.LoadError
	assert.ErrorAs(t, err, &schemaErr)

	a = testdataArtifacts()
	a.ModelPath = filepath.Join(t.TempDir(), "missing.json")
	_, err = Load(a, nil)
	var modelErr *ml.LoadError
	assert.ErrorAs(t, err, &modelErr)
}

func TestHolder(t *testing.T) {
	h := NewHolder(nil)
	_, err := h.Predict(context.Background(), Input{})
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = h.Categories(schema.DomainCancer)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, schema.UnknownStage, h.StageLabel(99))

	svc, err := Load(testdataArtifacts(), nil)
	require.NoError(t, err)
	assert.Nil(t, h.Swap(svc))
	cats, err := h.Categories(schema.DomainCancer)
	require.NoError(t, err)
	assert.Equal(t, []string{"idc"}, cats)
}

func TestReloaderKeepsPreviousOnFailure(t *testing.T) {
	a := copyArtifacts(t)
	svc, err := Load(a, nil)
	require.NoError(t, err)
	h := NewHolder(svc)

	require.NoError(t, os.WriteFile(a.ColumnsPath, []byte(`{"data_columns": [`), 0o600))
	r := NewReloader(h, a, nil)
	assert.Error(t, r.Reload())
	assert.Same(t, svc, h.Current())
}

func TestReloaderWatchesArtifacts(t *testing.T) {
	a := copyArtifacts(t)
	svc, err := Load(a, nil)
	require.NoError(t, err)
	h := NewHolder(svc)

	reloaded := make(chan error, 8)
	r := NewReloader(h, a, nil)
	r.SetDebounce(20 * time.Millisecond)
	r.OnReload(func(err error) { reloaded <- err })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	updated := `{"data_columns": ["age_at_diagnosis", "ajcc_pathologic_stage", "cancer_category_idc", "cancer_category_ilc", "diagnosis_method_category_needle biopsy", "treatment_category_chemotherapy"]}`
	// the watcher may not be registered yet, so keep touching the file
	require.Eventually(t, func() bool {
		if err := os.WriteFile(a.ColumnsPath, []byte(updated), 0o600); err != nil {
			return false
		}
		select {
		case err := <-reloaded:
			return err == nil
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cats, err := h.Categories(schema.DomainCancer)
	require.NoError(t, err)
	assert.Equal(t, []string{"idc", "ilc"}, cats)
	assert.NotSame(t, svc, h.Current())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reloader did not stop")
	}
}
