package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/nudger/internal/logging"
	"github.com/hrygo/nudger/internal/profile"
	"github.com/hrygo/nudger/internal/version"
	"github.com/hrygo/nudger/server"
	"github.com/hrygo/nudger/server/service/nudge"
	"github.com/hrygo/nudger/server/service/nudgestore"
	"github.com/hrygo/nudger/store"
	"github.com/hrygo/nudger/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "nudger",
		Short: `Engagement nudge engine. Picks the right local hour, respects frequency caps and delivers via push with email fallback.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Systemd units provide their environment through EnvironmentFile.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile, err := loadProfile()
			if err != nil {
				panic(err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			ctx = logging.ToContext(ctx, slog.Default())
			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				cancel()
				return
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				cancel()
				slog.Error("failed to create server", "error", err)
				return
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			signal.Notify(c, terminationSignals...)

			if err := s.Start(ctx); err != nil {
				if !errors.Is(err, http.ErrServerClosed) {
					slog.Error("failed to start server", "error", err)
					cancel()
				}
			}

			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}

	dispatchCmd = &cobra.Command{
		Use:   "dispatch",
		Short: "Attempt one nudge for one user and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			nudgeType, _ := cmd.Flags().GetString("type")
			if userID == "" {
				return errors.New("--user is required")
			}
			return withDispatcher(cmd.Context(), func(ctx context.Context, d *nudge.Dispatcher) error {
				result, err := d.DispatchToUser(ctx, userID, nudgeType, nil)
				if result != nil {
					if printErr := printJSON(result); printErr != nil {
						return printErr
					}
				}
				return err
			})
		},
	}

	batchCmd = &cobra.Command{
		Use:   "batch",
		Short: "Dispatch a nudge to the population grouped by timezone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, false)
		},
	}

	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Show which timezone cohorts a batch would dispatch to, without sending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, true)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version, optionally failing when it is older than --min",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Println(version.StringFull())
			minVersion, _ := cmd.Flags().GetString("min")
			if minVersion == "" {
				return nil
			}
			if !version.IsValid(minVersion) {
				return fmt.Errorf("invalid version %q", minVersion)
			}
			if !version.IsVersionGreaterOrEqualThan(version.Version, minVersion) {
				return fmt.Errorf("version %s is older than %s", version.Version, minVersion)
			}
			return nil
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().Int("grpc-port", 0, "port of the gRPC health service, 0 disables it")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, key := range []string{"mode", "addr", "port", "grpc-port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("nudger")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	dispatchCmd.Flags().String("user", "", "user ID")
	dispatchCmd.Flags().String("type", nudge.TypeDailyTip, "nudge type")

	for _, cmd := range []*cobra.Command{batchCmd, planCmd} {
		cmd.Flags().String("type", nudge.TypeDailyTip, "nudge type")
		cmd.Flags().Int("hour", nudge.DefaultSendHour, "target local hour (0-23)")
		cmd.Flags().Int("size", 0, "population page size, 0 uses the configured default")
		cmd.Flags().String("audience", "", "CEL audience expression, e.g. \"streak > 0\"")
		cmd.Flags().Bool("streak-at-risk", false, "restrict to users whose streak is about to break")
		cmd.Flags().String("due", "all", "cohort selection: all, target_hour or active_window")
	}

	versionCmd.Flags().String("min", "", "minimum acceptable version")

	rootCmd.AddCommand(dispatchCmd, batchCmd, planCmd, versionCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:     viper.GetString("mode"),
		Addr:     viper.GetString("addr"),
		Port:     viper.GetInt("port"),
		GRPCPort: viper.GetInt("grpc-port"),
		Data:     viper.GetString("data"),
		Driver:   viper.GetString("driver"),
		DSN:      viper.GetString("dsn"),
		Version:  version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	slog.SetDefault(logging.New(os.Stderr, instanceProfile.LogLevel, instanceProfile.LogFormat))
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func openStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		printDatabaseError(err, instanceProfile)
		slog.Error("failed to create db driver", "error", err)
		return nil, err
	}

	storeInstance := store.New(dbDriver, instanceProfile)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		slog.Error("failed to migrate", "error", err)
		return nil, err
	}
	return storeInstance, nil
}

// withDispatcher runs fn against a dispatcher built from the environment.
// Subcommands share the server's channel and store wiring but never start
// the HTTP server or the scheduler.
func withDispatcher(ctx context.Context, fn func(context.Context, *nudge.Dispatcher) error) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, terminationSignals...)
	defer stop()

	storeInstance, err := openStore(ctx, instanceProfile)
	if err != nil {
		return err
	}
	defer storeInstance.Close()

	d, err := server.BuildDispatcher(instanceProfile, storeInstance, nudgestore.New(storeInstance), nil, slog.Default())
	if err != nil {
		return err
	}
	return fn(ctx, d)
}

func runBatch(cmd *cobra.Command, planOnly bool) error {
	flags := cmd.Flags()
	nudgeType, _ := flags.GetString("type")
	hour, _ := flags.GetInt("hour")
	size, _ := flags.GetInt("size")
	expr, _ := flags.GetString("audience")
	streakAtRisk, _ := flags.GetBool("streak-at-risk")
	dueName, _ := flags.GetString("due")

	due, err := nudge.ParseDueMode(dueName)
	if err != nil {
		return err
	}
	opts := []nudge.BatchOption{nudge.WithDue(due)}
	if streakAtRisk {
		if expr != "" {
			return errors.New("--audience and --streak-at-risk are mutually exclusive")
		}
		expr = nudge.StreakAtRiskExpr
	}
	if expr != "" {
		filter, err := nudge.NewAudienceFilter(expr)
		if err != nil {
			return err
		}
		opts = append(opts, nudge.WithAudience(filter))
	}

	return withDispatcher(cmd.Context(), func(ctx context.Context, d *nudge.Dispatcher) error {
		run := d.DispatchBatch
		if planOnly {
			run = d.PlanBatch
		}
		report, err := run(ctx, nudgeType, hour, size, opts...)
		if err != nil {
			return err
		}
		return printJSON(report)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Nudger %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	fmt.Printf("Instance: %s\n", profile.InstanceID)

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
	if profile.GRPCPort > 0 {
		fmt.Printf("gRPC health service on port %d\n", profile.GRPCPort)
	}
	if profile.CronEnabled {
		fmt.Printf("Schedules: daily tip %q, streak check %q, evening %q\n",
			profile.DailyTipSchedule, profile.StreakCheckSchedule, profile.EveningSchedule)
	} else {
		fmt.Println("Schedules: disabled")
	}
	fmt.Println()
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError provides user-friendly error messages for database connection issues
func printDatabaseError(err error, profile *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nDatabase connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "cannot connect"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL is not running.")
		if profile.Driver == "postgres" {
			fmt.Fprintf(os.Stderr, "   Start it with: sudo systemctl start postgresql\n")
		}
		fmt.Fprintf(os.Stderr, "\n   Or run on SQLite (single instance):\n")
		fmt.Fprintf(os.Stderr, "   - Set: NUDGER_DRIVER=sqlite\n")
		fmt.Fprintf(os.Stderr, "   - Or:  ./nudger --driver=sqlite --data=./data\n")

	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL SSL configuration mismatch.")
		fmt.Fprintf(os.Stderr, "   Add ?sslmode=disable to your DSN.\n")

	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL authentication failed.")
		fmt.Fprintf(os.Stderr, "   Check the credentials in NUDGER_DSN or your .env file.\n")

	case strings.Contains(errMsg, "unable to open database file"):
		fmt.Fprintln(os.Stderr, "\nSQLite database file cannot be opened.")
		fmt.Fprintf(os.Stderr, "   Check that --data points at a writable directory.\n")

	default:
		fmt.Fprintln(os.Stderr, "\nError:", errMsg)
	}

	if _, statErr := os.Stat(".env"); statErr == nil {
		fmt.Fprintf(os.Stderr, "\nFound .env file, configuration loaded from current directory.\n")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
