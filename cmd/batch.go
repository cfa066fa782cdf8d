package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scribeworks/formfill-cli/internal/model"
)

var batchUser string

var batchCmd = &cobra.Command{
	Use:   "batch <form-file>...",
	Short: "Analyze multiple form documents as one batch",
	Long:  "Runs the analysis stage for each document concurrently. Each successful document ends up awaiting user data, same as 'process'.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initProcessor(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		refs := make([]model.FileRef, 0, len(args))
		for _, path := range args {
			ref, err := fileRefFor(path)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}

		batch, err := env.Processor.RunBatch(ctx, batchUser, refs)
		if err != nil {
			return eris.Wrap(err, "run batch")
		}

		zap.L().Info("batch finished",
			zap.String("batch_id", batch.ID),
			zap.Int("succeeded", batch.Succeeded),
			zap.Int("failed", batch.Failed))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchUser, "user", "", "user ID owning the batch (required)")
	_ = batchCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(batchCmd)
}
