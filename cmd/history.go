package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/scribeworks/formfill-cli/internal/model"
	"github.com/scribeworks/formfill-cli/internal/store"
)

var (
	historyUser   string
	historyStatus string
	historyLimit  int
	historyOffset int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List a user's processing records, most recent first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		records, err := st.ListRecords(ctx, store.RecordFilter{
			UserID: historyUser,
			Status: model.Status(historyStatus),
			Limit:  historyLimit,
			Offset: historyOffset,
		})
		if err != nil {
			return eris.Wrap(err, "list records")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		formatHistory(os.Stdout, records)
		return nil
	},
}

func formatHistory(w io.Writer, records []model.ProcessingRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFORM\tSTATUS\tSTEP\tPROGRESS\tCREATED")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
			rec.ID,
			rec.OriginalForm.Name,
			rec.Workflow.Status,
			rec.Workflow.CurrentStep,
			rec.Progress(),
			rec.CreatedAt.Format(time.RFC3339),
		)
	}
	tw.Flush()
}

func init() {
	historyCmd.Flags().StringVar(&historyUser, "user", "", "user ID (required)")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status (pending|processing|completed|failed)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "max records to list")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "records to skip")
	_ = historyCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(historyCmd)
}
