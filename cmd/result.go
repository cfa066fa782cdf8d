package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/scribeworks/formfill-cli/internal/model"
)

var resultUser string

var resultCmd = &cobra.Command{
	Use:   "result <record-id>",
	Short: "Show a completed record's filled output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rec, err := st.GetRecord(ctx, args[0], resultUser)
		if err != nil {
			return eris.Wrap(err, "get record")
		}
		if rec.Workflow.Status != model.StatusCompleted {
			return eris.Errorf("record is %s, not completed", rec.Workflow.Status)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	resultCmd.Flags().StringVar(&resultUser, "user", "", "user ID owning the record (required)")
	_ = resultCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(resultCmd)
}
