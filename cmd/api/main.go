package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"

	"agendas/api/internal/auth"
	"agendas/api/internal/config"
	"agendas/api/internal/scope"
	"agendas/api/internal/store"
)

var (
	// Global flags
	verbose     bool
	addr        string
	storeDriver string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "agendas-api",
	Short: "Meeting dashboard API",
	Long: `agendas-api serves the KPI meeting dashboards.

Editors sign in, pick a meeting scope (kind, branch, date) and edit the
indicator matrix. Edits are applied immediately and saved after a quiet
period; switching scope or signing out saves everything first.

Run without a subcommand to start the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if addr != "" {
			cfg.Addr = addr
		}
		if storeDriver != "" {
			cfg.StoreDriver = storeDriver
		}

		zcfg := zap.NewProductionConfig()
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = zapcore.InfoLevel
		}
		if verbose {
			level = zapcore.DebugLevel
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, dialect, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		if db == nil {
			logger.Info("memory store has no migrations")
			return nil
		}
		defer db.Close()
		if err := migrate(ctx, db, dialect); err != nil {
			return err
		}
		logger.Info("migrations applied", zap.String("driver", string(dialect)))
		return nil
	},
}

var datesCmd = &cobra.Command{
	Use:   "dates",
	Short: "List the meeting dates editors can pick",
	RunE: func(cmd *cobra.Command, args []string) error {
		dates := scope.DefaultCadence.ListAvailableDates()
		nearest, _ := scope.NearestDate(dates, scope.DateOf(time.Now()))
		out := cmd.OutOrStdout()
		for _, date := range dates {
			marker := ""
			if date == nearest {
				marker = " *"
			}
			fmt.Fprintf(out, "%s%s\n", date, marker)
		}
		return nil
	},
}

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret",
	Short: "Hash the sign-in proxy secret read from stdin for AGENDA_LOGIN_SECRET_HASH",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		hash, err := auth.HashProxySecret(strings.TrimRight(string(raw), "\r\n"), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "Listen address (overrides API_ADDR)")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "",
		"Store driver: "+strings.Join([]string{string(store.Postgres), string(store.SQLite), "memory"}, ", "))

	rootCmd.AddCommand(serveCmd, migrateCmd, datesCmd, hashSecretCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
