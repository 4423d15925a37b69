package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/pkg/config"
	"github.com/noah-isme/ictu-erp-api/pkg/database"
	"github.com/noah-isme/ictu-erp-api/pkg/logger"
)

var Version = "dev"

// env is shared by every subcommand once the root pre-run has loaded it.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func (e *env) connect(ctx context.Context) (*sqlx.DB, error) {
	return database.NewPostgres(ctx, e.cfg.Database)
}

func main() {
	e := &env{}
	rootCmd := &cobra.Command{
		Use:           "ictuctl",
		Short:         "Operational tooling for the ICTU ERP API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			e.cfg, e.logger = cfg, logr
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}

	rootCmd.AddCommand(migrateCmd(e))
	rootCmd.AddCommand(seedCmd(e))
	rootCmd.AddCommand(facultyCmd(e))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
