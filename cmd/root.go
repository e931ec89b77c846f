// Package cmd implements the treatpredict command line.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"treatpredict/config"
	"treatpredict/logging"
	"treatpredict/predictor"
)

const defaultConfigPath = "config.yaml"

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "treatpredict",
		Short:        "Predict whether a TCGA-BRCA patient needs treatment",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML config file")

	loadConfig := func() (*config.Config, error) {
		return config.Load(resolveConfigPath(configPath))
	}

	root.AddCommand(
		newServeCommand(loadConfig),
		newInspectCommand(loadConfig),
		newPredictCommand(loadConfig),
		newCategoriesCommand(loadConfig),
	)
	return root
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// resolveConfigPath also looks one directory up so the binary can be started
// from a subdirectory of the checkout.
func resolveConfigPath(path string) string {
	if path != defaultConfigPath {
		return path
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, err := os.Stat(filepath.Join("..", path)); err == nil {
			return filepath.Join("..", path)
		}
	}
	return path
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
		File:     cfg.Log.File,
		MaxSize:  cfg.Log.MaxSize,
		MaxAge:   cfg.Log.MaxAge,
		Backups:  cfg.Log.Backups,
	})
}

func artifactsFrom(cfg *config.Config) predictor.Artifacts {
	return predictor.Artifacts{
		ColumnsPath: cfg.Artifacts.ColumnsPath,
		ModelPath:   cfg.Artifacts.ModelPath,
		ModelType:   cfg.Artifacts.ModelType,
	}
}
