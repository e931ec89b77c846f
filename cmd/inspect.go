package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"treatpredict/config"
	"treatpredict/predictor"
	"treatpredict/schema"
)

func newInspectCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Load the artifacts and print the feature layout and category lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := predictor.Load(artifactsFrom(cfg), zap.NewNop())
			if err != nil {
				return err
			}
			return writeInspection(cmd.OutOrStdout(), svc)
		},
	}
}

func writeInspection(w io.Writer, svc *predictor.Service) error {
	columns := svc.Columns()
	fmt.Fprintf(w, "columns (%d):\n", len(columns))
	for i, column := range columns {
		fmt.Fprintf(w, "  %3d  %s\n", i, column)
	}

	for _, domain := range schema.Domains() {
		categories, err := svc.Categories(domain)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s (%d): %s\n", domain, len(categories), strings.Join(categories, ", "))
	}

	fmt.Fprintln(w, "stages:")
	for _, code := range schema.StageCodes() {
		fmt.Fprintf(w, "  %2d  %s\n", code, svc.StageLabel(code))
	}
	return nil
}
