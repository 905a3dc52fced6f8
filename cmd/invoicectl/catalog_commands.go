package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vipul43/invoice-worker/internal/models"
	"github.com/vipul43/invoice-worker/internal/repository"
)

func newInvoicesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "invoices <batch-id>",
		Short: "List a batch's invoices, lowest confidence first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			invoices, err := a.Orchestrator.ListInvoices(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(invoices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No invoices")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderInvoices(invoices))
			return nil
		},
	}
}

func newVendorCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vendor",
		Short: "Manage vendors",
	}

	var code, name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a vendor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			vendor := &models.Vendor{
				ID:   uuid.New().String(),
				Code: strings.TrimSpace(code),
				Name: strings.TrimSpace(name),
			}
			if vendor.Name == "" {
				vendor.Name = vendor.Code
			}
			if err := a.Store.Vendors.Create(cmd.Context(), vendor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created vendor %s (%s)\n", vendor.ID, vendor.Code)
			return nil
		},
	}
	add.Flags().StringVar(&code, "code", "", "Unique vendor code")
	add.Flags().StringVar(&name, "name", "", "Display name; defaults to the code")
	_ = add.MarkFlagRequired("code")

	cmd.AddCommand(add)
	return cmd
}

func newPromptCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Manage vendor extraction prompts",
	}

	var file string
	var inactive bool
	add := &cobra.Command{
		Use:   "add <vendor-id>",
		Short: "Add the next version of a vendor's extraction prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read prompt: %w", err)
			}
			if strings.TrimSpace(string(text)) == "" {
				return fmt.Errorf("prompt file %s is empty", file)
			}

			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			vendorID := args[0]
			if _, err := a.Store.Vendors.GetByID(cmd.Context(), vendorID); err != nil {
				if errors.Is(err, repository.ErrVendorNotFound) {
					return fmt.Errorf("vendor %s not found", vendorID)
				}
				return err
			}

			prompt := &models.ExtractionPrompt{
				ID:         uuid.New().String(),
				VendorID:   vendorID,
				PromptText: string(text),
				IsActive:   !inactive,
			}
			if err := a.Store.Vendors.CreatePrompt(cmd.Context(), prompt); err != nil {
				return err
			}
			state := "active"
			if inactive {
				state = "inactive"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s prompt version %d for vendor %s\n", state, prompt.Version, vendorID)
			return nil
		},
	}
	add.Flags().StringVar(&file, "file", "", "File holding the prompt text")
	add.Flags().BoolVar(&inactive, "inactive", false, "Store the prompt without activating it")
	_ = add.MarkFlagRequired("file")

	cmd.AddCommand(add)
	return cmd
}
