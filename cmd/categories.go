package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"treatpredict/config"
	"treatpredict/predictor"
	"treatpredict/schema"
)

func newCategoriesCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:       "categories <cancer|diagnosis|treatment>",
		Short:     "List the valid categories of one domain",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(schema.DomainCancer), string(schema.DomainDiagnosis), string(schema.DomainTreatment)},
		RunE: func(cmd *cobra.Command, args []string) error {
			domain, err := schema.ParseDomain(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := predictor.Load(artifactsFrom(cfg), zap.NewNop())
			if err != nil {
				return err
			}
			categories, err := svc.Categories(domain)
			if err != nil {
				return err
			}
			for _, category := range categories {
				fmt.Fprintln(cmd.OutOrStdout(), category)
			}
			return nil
		},
	}
}
