package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/internal/repository"
	"github.com/noah-isme/ictu-erp-api/internal/service"
)

// systemActor authorises bootstrap writes made from the command line.
var systemActor = &models.JWTClaims{Role: models.RoleAdmin}

func seedCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert bootstrap records",
	}
	cmd.AddCommand(seedUserCmd(e))
	return cmd
}

func seedUserCmd(e *env) *cobra.Command {
	var req models.CreateUserRequest
	var role string
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Create a staff or admin account",
		Example: `  ictuctl seed user --email admin@ictuniversity.edu.cm --password 'change-me-now' \
    --first-name System --last-name Admin --role admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			req.Role = models.UserRole(role)
			users := service.NewUserService(repository.NewUserRepository(db), service.DefaultPolicy(), nil, e.logger)
			user, err := users.Create(cmd.Context(), systemActor, req, models.LoginRequest{UserAgent: "ictuctl"})
			if err != nil {
				return err
			}
			e.logger.Info("user seeded", zap.String("id", user.ID), zap.String("email", user.Email), zap.String("role", string(user.Role)))
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "initial password (min 8 characters)")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&role, "role", string(models.RoleAdmin), "account role")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
