package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/controlforge/controlforge/internal/model"
	"github.com/controlforge/controlforge/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke the API keys used to authenticate against the control-plane API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		orgID     string
		role      string
		name      string
		scheme    string
		expiresIn time.Duration
		allowIPs  []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key bound to an organization and role. The raw key is shown once and cannot be retrieved again.",
		Example: `  controlforge key create --org 6a4f... --role viewer --name "CI pipeline"
  controlforge key create --org 6a4f... --role admin --scheme test --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(orgID, role, name, scheme, expiresIn, allowIPs)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization the key belongs to (required)")
	cmd.Flags().StringVar(&role, "role", "user", "Role the key acts with (admin, viewer, user)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key")
	cmd.Flags().StringVar(&scheme, "scheme", "live", "Key scheme: live or test")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Optional expiry, e.g. 720h (0 = never)")
	cmd.Flags().StringSliceVar(&allowIPs, "allow-ip", nil, "Restrict the key to these client addresses")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runKeyCreate(orgID, role, name, scheme string, expiresIn time.Duration, allowIPs []string) error {
	if !model.Role(role).Valid() {
		return fmt.Errorf("unknown role %q (want admin, viewer, or user)", role)
	}

	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	org, err := store.GetOrganization(ctx, orgID)
	if err != nil {
		return fmt.Errorf("organization %q not found", orgID)
	}

	rawKey, prefix, err := service.GenerateAPIKey(scheme)
	if err != nil {
		return err
	}
	keyHash, err := service.HashAPIKeySecret(rawKey)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if expiresIn > 0 {
		t := time.Now().UTC().Add(expiresIn)
		expiresAt = &t
	}

	apiKey := &model.APIKey{
		ID:          uuid.NewString(),
		OrgID:       org.ID,
		CreatedBy:   "cli",
		Name:        name,
		Role:        model.Role(role),
		KeyPrefix:   prefix,
		KeyHash:     keyHash,
		ExpiresAt:   expiresAt,
		IPAllowlist: allowIPs,
	}
	if err := store.CreateAPIKey(ctx, apiKey); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:  %s\n", rawKey)
	fmt.Printf("  Org:  %s\n", org.Name)
	fmt.Printf("  Role: %s\n", role)
	if name != "" {
		fmt.Printf("  Name: %s\n", name)
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		orgID      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List an organization's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(orgID, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization to list keys for (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runKeyList(orgID string, jsonOutput bool) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(context.Background(), orgID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys configured. Use 'controlforge key create' to create one.")
		return nil
	}

	fmt.Printf("%-18s %-10s %-24s %-8s\n", "PREFIX", "ROLE", "NAME", "STATUS")
	for _, k := range keys {
		status := "active"
		switch {
		case k.RevokedAt != nil:
			status = "revoked"
		case k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()):
			status = "expired"
		}
		fmt.Printf("%-18s %-10s %-24s %-8s\n", k.KeyPrefix, k.Role, k.Name, status)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Permanently deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(orgID, args[0])
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization the key belongs to (required)")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runKeyRevoke(orgID, prefix string) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	keys, err := store.ListAPIKeys(ctx, orgID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	var matched *model.APIKey
	for i := range keys {
		if strings.HasPrefix(keys[i].KeyPrefix, prefix) {
			matched = &keys[i]
			break
		}
	}
	if matched == nil {
		return fmt.Errorf("no API key found with prefix %q", prefix)
	}

	if err := store.RevokeAPIKey(ctx, matched.ID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key with prefix %q\n", matched.KeyPrefix)
	return nil
}
