package cli

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/spf13/cobra"

	"github.com/isometry/ad-auth-bridge/internal/server"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP login service",
		Long: `Run the HTTP login service.

Routes:
  POST /api/login    authenticate with username and password (JSON or form)
  POST /api/logout   clear the session
  GET  /api/whoami   show the principal of the current session
  GET  /healthz      database health
  GET  /metrics      Prometheus metrics (when metrics.enabled)

Examples:
  # Serve with a config file
  adbridge serve --config /etc/adbridge/adbridge.yaml

  # Override settings from the environment
  ADBRIDGE_SERVER_LISTEN=:9000 ADBRIDGE_LOGGING_LEVEL=DEBUG adbridge serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadConfig(cmd.Context(), configPath())
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}

			switch strings.ToUpper(cfg.Logging.Level) {
			case "DEBUG", "TRACE":
				gin.SetMode(gin.DebugMode)
			default:
				gin.SetMode(gin.ReleaseMode)
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var opts []server.Option
			if a.registry != nil {
				opts = append(opts, server.WithMetrics(a.registry))
			}

			tflog.Info(ctx, "Starting adbridge", map[string]any{
				"version":  Version,
				"listen":   cfg.Server.Listen,
				"database": string(cfg.Database.Type),
			})

			return server.New(ctx, cfg.Server, a.orchestrator, a.store, opts...).Run(ctx)
		},
	}
}
