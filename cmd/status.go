package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/scribeworks/formfill-cli/internal/model"
)

var statusUser string

var statusCmd = &cobra.Command{
	Use:   "status <record-id>",
	Short: "Show a record's workflow position",
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

		rec, err := st.GetRecord(ctx, args[0], statusUser)
		if err != nil {
			return eris.Wrap(err, "get record")
		}

		report := model.StatusReport{
			ID:          rec.ID,
			Status:      rec.Workflow.Status,
			CurrentStep: rec.Workflow.CurrentStep,
			Progress:    rec.Progress(),
			Errors:      rec.Errors,
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}

		if rec.Workflow.Status == model.StatusPending && rec.DataCollection != nil && rec.DataCollection.Requirements != nil {
			fmt.Fprintf(os.Stderr, "Awaiting user data: %d field(s), %d document(s).\n",
				len(rec.DataCollection.Requirements.Fields),
				len(rec.DataCollection.Requirements.Documents))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusUser, "user", "", "user ID owning the record (required)")
	_ = statusCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(statusCmd)
}
