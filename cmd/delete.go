package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var deleteUser string

var deleteCmd = &cobra.Command{
	Use:   "delete <record-id>",
	Short: "Delete a processing record",
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

		if err := st.DeleteRecord(ctx, args[0], deleteUser); err != nil {
			return eris.Wrap(err, "delete record")
		}
		fmt.Fprintf(os.Stderr, "Deleted %s.\n", args[0])
		return nil
	},
}

func init() {
	deleteCmd.Flags().StringVar(&deleteUser, "user", "", "user ID owning the record (required)")
	_ = deleteCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(deleteCmd)
}
