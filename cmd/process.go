package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scribeworks/formfill-cli/internal/model"
)

var processUser string

var processCmd = &cobra.Command{
	Use:   "process <form-file>",
	Short: "Analyze a form document and start a processing record",
	Long:  "Ingests the form, runs the analysis stage, and reports the data the user must supply. The record then waits for 'submit'.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initProcessor(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ref, err := fileRefFor(args[0])
		if err != nil {
			return err
		}

		rec, err := env.Processor.Start(ctx, processUser, ref)
		if err != nil {
			return eris.Wrap(err, "process form")
		}

		zap.L().Info("analysis complete",
			zap.String("record_id", rec.ID),
			zap.Int("fields", rec.Analysis.Extraction.TotalFields),
			zap.Int("required_inputs", len(rec.DataCollection.Requirements.Fields)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// fileRefFor stats a local file and builds the reference the ingestor
// expects.
func fileRefFor(path string) (model.FileRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.FileRef{}, eris.Wrapf(err, "stat %s", path)
	}
	return model.FileRef{
		Name: filepath.Base(path),
		Size: info.Size(),
		Path: path,
	}, nil
}

func init() {
	processCmd.Flags().StringVar(&processUser, "user", "", "user ID owning the record (required)")
	_ = processCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(processCmd)
}
