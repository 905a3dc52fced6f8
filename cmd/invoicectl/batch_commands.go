package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vipul43/invoice-worker/internal/models"
	"github.com/vipul43/invoice-worker/internal/service"
)

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var vendorID string
	var fileType string

	cmd := &cobra.Command{
		Use:   "create <path>...",
		Short: "Create a pending batch from local paths or minio:// URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}

			files := make([]service.NewFile, 0, len(args))
			for _, p := range args {
				files = append(files, service.NewFile{Filename: filepath.Base(p), FilePath: p, FileType: fileType})
			}

			batch, err := a.Orchestrator.CreateBatch(cmd.Context(), vendorID, files)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created batch %s with %d files\n", batch.ID, batch.TotalFileCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&vendorID, "vendor", "", "Vendor ID the invoices belong to")
	cmd.Flags().StringVar(&fileType, "type", "", "File type for every path (PDF or HTML); defaults to the extension")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

// newRunCommand drives a batch in the foreground under the worker lock.
// Ctrl-C stops the run at the next file boundary and leaves the batch
// resumable.
func newRunCommand(ctx *commandContext, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <batch-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}

			if err := ctx.lockWorker(); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			batchID := args[0]
			run := a.Orchestrator.StartBatch
			if name == "resume" {
				run = a.Orchestrator.ResumeBatch
			}
			runErr := run(runCtx, batchID)

			progress, err := a.Orchestrator.GetProgress(context.WithoutCancel(runCtx), batchID)
			if err != nil {
				if runErr != nil {
					return runErr
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderProgress(progress))
			return runErr
		},
	}
}

func newProgressCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <batch-id>",
		Short: "Show batch status and file counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			progress, err := a.Orchestrator.GetProgress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderProgress(progress))
			return nil
		},
	}
}

func newFilesCommand(ctx *commandContext) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "files <batch-id>",
		Short: "List a batch's files in upload order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			files, err := a.Orchestrator.ListFiles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			files = filterFiles(files, models.FileStatus(strings.ToLower(status)))
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No files")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderFiles(files))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only show files in this status")
	return cmd
}

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Mark batches left processing by a dead worker as failed",
		Long:  "Takes the worker lock, so it refuses to run while a worker is running on this host.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			if err := ctx.lockWorker(); err != nil {
				return err
			}
			n, err := a.Orchestrator.RecoverOrphans(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %s\n", plural(n, "batch", "batches"))
			return nil
		},
	}
}

func filterFiles(files []models.BatchFile, status models.FileStatus) []models.BatchFile {
	if status == "" {
		return files
	}
	out := files[:0:0]
	for _, f := range files {
		if f.Status == status {
			out = append(out, f)
		}
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.Itoa(n) + " " + many
}
