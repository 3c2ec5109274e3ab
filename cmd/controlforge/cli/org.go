package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/controlforge/controlforge/internal/model"
)

func newOrgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
		Long:  "Create and list the organizations (tenants) of this control plane.",
	}

	cmd.AddCommand(newOrgCreateCmd())
	cmd.AddCommand(newOrgListCmd())

	return cmd
}

// ---------- org create ----------

func newOrgCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrgCreate(args[0])
		},
	}
}

func runOrgCreate(name string) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	org := &model.Organization{
		ID:       uuid.NewString(),
		Name:     name,
		IsActive: true,
	}
	if err := store.CreateOrganization(context.Background(), org); err != nil {
		return fmt.Errorf("create organization: %w", err)
	}

	fmt.Printf("Organization created:\n\n  ID:   %s\n  Name: %s\n", org.ID, org.Name)
	return nil
}

// ---------- org list ----------

func newOrgListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrgList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runOrgList(jsonOutput bool) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	orgs, err := store.ListOrganizations(context.Background())
	if err != nil {
		return fmt.Errorf("list organizations: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(orgs)
	}

	if len(orgs) == 0 {
		fmt.Println("No organizations yet. Use 'controlforge org create' to create one.")
		return nil
	}

	fmt.Printf("%-38s %-24s %-8s\n", "ID", "NAME", "ACTIVE")
	for _, o := range orgs {
		active := "yes"
		if !o.IsActive {
			active = "no"
		}
		fmt.Printf("%-38s %-24s %-8s\n", o.ID, o.Name, active)
	}
	return nil
}
