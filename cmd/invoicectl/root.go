package main

import (
	"github.com/spf13/cobra"
)

// newRootCommand builds the command tree. The caller closes ctx after
// Execute, whether or not the command failed.
func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "invoicectl",
		Short:         "Manage invoice processing batches",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&ctx.verbose, "verbose", "v", false, "Log pipeline activity to stdout")

	rootCmd.AddCommand(newCreateCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx, "start", "Process every pending file of a batch"))
	rootCmd.AddCommand(newRunCommand(ctx, "resume", "Reprocess the failed files of a failed or partial batch"))
	rootCmd.AddCommand(newProgressCommand(ctx))
	rootCmd.AddCommand(newFilesCommand(ctx))
	rootCmd.AddCommand(newRecoverCommand(ctx))
	rootCmd.AddCommand(newInvoicesCommand(ctx))
	rootCmd.AddCommand(newVendorCommand(ctx))
	rootCmd.AddCommand(newPromptCommand(ctx))

	return rootCmd
}
