package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scribeworks/formfill-cli/internal/model"
)

var (
	submitUser     string
	submitDataFile string
)

var submitCmd = &cobra.Command{
	Use:   "submit <record-id>",
	Short: "Submit user data for a record awaiting input",
	Long:  "Reads a JSON file of field values and document references, verifies it against the record's requirements, and on success fills the form.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initProcessor(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		raw, err := os.ReadFile(submitDataFile)
		if err != nil {
			return eris.Wrapf(err, "read %s", submitDataFile)
		}
		var data model.SubmittedData
		if err := json.Unmarshal(raw, &data); err != nil {
			return eris.Wrap(err, "parse submitted data")
		}

		rec, err := env.Processor.SubmitUserData(ctx, submitUser, args[0], data)
		if err != nil {
			return eris.Wrap(err, "submit data")
		}

		if rec.Workflow.Status == model.StatusPending {
			// Verification rejected the submission; surface what to fix.
			result := rec.Verification.Result
			zap.L().Warn("submission rejected",
				zap.Int("attempt", rec.Verification.Attempts),
				zap.Strings("missing", result.MissingFields),
				zap.Strings("invalid", result.InvalidFields))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitUser, "user", "", "user ID owning the record (required)")
	submitCmd.Flags().StringVar(&submitDataFile, "data", "", "path to JSON file with submitted values (required)")
	_ = submitCmd.MarkFlagRequired("user")
	_ = submitCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(submitCmd)
}
