package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/controlforge/controlforge/internal/server"
	"github.com/controlforge/controlforge/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the control-plane API server",
		Long:  "Start the HTTP server that enforces authentication and RBAC for every protected route.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}
	defer store.Close()
	logger.Info("credential store initialized", "driver", viper.GetString("store.driver"))

	sessionSecret := viper.GetString("auth.session_secret")
	if sessionSecret == "" {
		sessionSecret = "controlforge-dev-secret-change-me"
		logger.Warn("auth.session_secret is not set, using insecure development default")
	}

	authSvc := service.NewAuthService(store, sessionSecret, logger)
	auditSvc := service.NewAuditService(store, logger)

	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.ShutdownTimeout = 30 * time.Second
	if paths := viper.GetStringSlice("server.public_paths"); len(paths) > 0 {
		srvCfg.PublicPaths = paths
	}
	if prefix := viper.GetString("server.health_path_prefix"); prefix != "" {
		srvCfg.HealthPathPrefix = prefix
	}

	srv := server.New(srvCfg, store, authSvc, auditSvc, logger)

	fmt.Printf("→ ControlForge\n")
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Metrics: http://%s:%d/metrics\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
