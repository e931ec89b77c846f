package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"treatpredict/config"
	"treatpredict/predictor"
)

func newPredictCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		in     predictor.Input
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run one prediction against the configured artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if math.IsNaN(in.Age) || math.IsInf(in.Age, 0) {
				return errors.Errorf("--age must be a finite number, got %v", in.Age)
			}
			if in.Age < 0 {
				return errors.New("--age must not be negative")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := predictor.Load(artifactsFrom(cfg), zap.NewNop())
			if err != nil {
				return err
			}
			result, err := svc.Predict(cmd.Context(), in)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), result, asJSON)
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&in.Age, "age", 0, "age at diagnosis in years")
	flags.IntVar(&in.Stage, "stage", 0, "AJCC pathologic stage code (0-11)")
	flags.StringVar(&in.CancerCategory, "cancer", "", "cancer category")
	flags.StringVar(&in.DiagnosisMethod, "diagnosis", "", "diagnosis method")
	flags.StringVar(&in.TreatmentCategory, "treatment", "", "treatment category")
	flags.BoolVar(&asJSON, "json", false, "print the full result as JSON")
	for _, name := range []string{"age", "stage", "cancer", "diagnosis", "treatment"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func writeResult(w io.Writer, result predictor.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(w, "prediction: %s (label %d)\n", result.Outcome, result.Label)
	if result.Probability != nil {
		fmt.Fprintf(w, "probability: %.4f\n", *result.Probability)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "warning: %s category %q unrecognized, %s\n", warning.Domain, warning.Value, warning)
	}
	fmt.Fprintf(w, "vector: %v\n", result.Vector)
	return nil
}
