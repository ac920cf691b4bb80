package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portside/portside/internal/auth"
	"github.com/portside/portside/models"
)

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Generate an authentication token",
	Long: `Generate a JWT access token for a user id.

The token is signed with the jwt_secret from the configuration file.
Useful for bootstrapping the first admin session or for scripting
against the API.

Examples:
  # Generate a user token
  portside token user-1

  # Generate an admin token
  portside token admin-1 --admin`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerateToken,
}

var tokenAdmin bool

func init() {
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "grant the admin role")
}

func runGenerateToken(cmd *cobra.Command, args []string) error {
	userID := args[0]

	if cfg == nil || cfg.Security.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not found in config file")
	}

	roles := []models.Role{models.RoleUser}
	if tokenAdmin {
		roles = append(roles, models.RoleAdmin)
	}

	svc := auth.NewJWTService(cfg)
	token, err := svc.GenerateToken(&models.User{
		ID:       userID,
		Username: userID,
		Roles:    roles,
		Enabled:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	fmt.Println(token)
	return nil
}
