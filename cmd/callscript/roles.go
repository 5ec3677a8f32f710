package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"callscript/internal/store"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage the admin and manager member lists",
}

var rolesListCmd = &cobra.Command{
	Use:   "list <admin|manager>",
	Short: "List members of a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := parseRole(args[0])
		if err != nil {
			return err
		}
		return withStore(cmd, func(s *store.PostgresStore) error {
			members, err := s.RoleMembers(cmd.Context(), role)
			if err != nil {
				return err
			}
			for _, member := range members {
				fmt.Fprintln(cmd.OutOrStdout(), member.UserID)
			}
			return nil
		})
	},
}

var rolesGrantCmd = &cobra.Command{
	Use:   "grant <admin|manager> <user-id>",
	Short: "Add a user to a role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := parseRole(args[0])
		if err != nil {
			return err
		}
		userID := strings.TrimSpace(args[1])
		return withStore(cmd, func(s *store.PostgresStore) error {
			if err := s.GrantRole(cmd.Context(), userID, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", role, userID)
			return nil
		})
	},
}

var rolesRevokeCmd = &cobra.Command{
	Use:   "revoke <admin|manager> <user-id>",
	Short: "Remove a user from a role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := parseRole(args[0])
		if err != nil {
			return err
		}
		userID := strings.TrimSpace(args[1])
		return withStore(cmd, func(s *store.PostgresStore) error {
			if err := s.RevokeRole(cmd.Context(), userID, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", role, userID)
			return nil
		})
	},
}

func init() {
	rolesCmd.AddCommand(rolesListCmd, rolesGrantCmd, rolesRevokeCmd)
}

func parseRole(raw string) (string, error) {
	switch role := strings.ToLower(strings.TrimSpace(raw)); role {
	case store.RoleAdmin, store.RoleManager:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q (want admin or manager)", raw)
	}
}

func withStore(cmd *cobra.Command, fn func(*store.PostgresStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	return fn(store.NewPostgresStore(db))
}
