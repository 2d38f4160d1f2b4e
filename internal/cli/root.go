package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/tenant-session-engine/internal/config"
	"github.com/sandeepkv93/tenant-session-engine/internal/database"
	"github.com/sandeepkv93/tenant-session-engine/internal/di"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
	"github.com/sandeepkv93/tenant-session-engine/internal/service"
	"github.com/sandeepkv93/tenant-session-engine/internal/tools/common"
	"github.com/sandeepkv93/tenant-session-engine/internal/tools/ui"
)

type options struct {
	ci bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "sessiond",
		Short:         "Tenant session engine server and operator commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(opts),
		newPruneCommand(opts),
		newRevokeTenantCommand(opts),
		newRevokeUserCommand(opts),
	)
	return cmd
}

func newServeCommand() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the session pruner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger, lp, err := observability.InitLogging(ctx, cfg)
			if err != nil {
				return err
			}
			a, cleanup, err := di.InitializeApp(ctx, cfg, logger, lp)
			if err != nil {
				return err
			}
			defer cleanup()
			if migrate {
				engine, closeEngine, err := di.InitializeEngine(cfg, logger)
				if err != nil {
					return err
				}
				err = database.Migrate(engine.DB)
				closeEngine()
				if err != nil {
					return err
				}
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply schema migrations before serving")
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, opts, "migrate", func(ctx context.Context, e *di.Engine) ([]string, error) {
				if err := database.Migrate(e.DB); err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("models=%d", len(database.Models()))}, nil
			})
		},
	}
}

func newPruneCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete session records past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, opts, "prune", func(ctx context.Context, e *di.Engine) ([]string, error) {
				n, err := e.Pruner.RunOnce(ctx)
				if err != nil {
					return nil, err
				}
				return []string{"pruned=" + strconv.FormatInt(n, 10)}, nil
			})
		},
	}
}

func newRevokeTenantCommand(opts *options) *cobra.Command {
	var tenantID uint
	var reason string
	cmd := &cobra.Command{
		Use:   "revoke-tenant",
		Short: "Revoke every active session in a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == 0 {
				return errors.New("--tenant-id is required")
			}
			return withEngine(cmd, opts, "revoke-tenant", func(ctx context.Context, e *di.Engine) ([]string, error) {
				n, err := e.Sessions.RevokeTenantSessions(ctx, &tenantID, reason, service.Origin{IP: "cli"})
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("tenant_id=%d revoked=%d", tenantID, n)}, nil
			})
		},
	}
	cmd.Flags().UintVar(&tenantID, "tenant-id", 0, "tenant to revoke")
	cmd.Flags().StringVar(&reason, "reason", service.RevokeReasonTenantInactive, "revocation reason recorded on each session")
	return cmd
}

func newRevokeUserCommand(opts *options) *cobra.Command {
	var userID uint
	cmd := &cobra.Command{
		Use:   "revoke-user",
		Short: "Revoke every session owned by a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errors.New("--user-id is required")
			}
			return withEngine(cmd, opts, "revoke-user", func(ctx context.Context, e *di.Engine) ([]string, error) {
				n, err := e.Sessions.LogoutAll(ctx, userID, nil, service.Origin{IP: "cli"})
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("user_id=%d revoked=%d", userID, n)}, nil
			})
		},
	}
	cmd.Flags().UintVar(&userID, "user-id", 0, "user whose sessions are revoked")
	return cmd
}

func withEngine(cmd *cobra.Command, opts *options, title string, fn func(context.Context, *di.Engine) ([]string, error)) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	engine, cleanup, err := di.InitializeEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	run := func(ctx context.Context) ([]string, error) { return fn(ctx, engine) }
	var details []string
	if opts.ci {
		details, err = run(cmd.Context())
		common.WriteCIResult(cmd.OutOrStdout(), err == nil, "sessiond "+title, details, err)
		return err
	}
	details, err = ui.Run("sessiond "+title, run)
	return err
}
