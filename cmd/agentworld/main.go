package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/agentworld/engine"
	"github.com/hrygo/agentworld/engine/logstream"
	"github.com/hrygo/agentworld/engine/metrics"
	"github.com/hrygo/agentworld/internal/profile"
	"github.com/hrygo/agentworld/internal/version"
	"github.com/hrygo/agentworld/server"
	"github.com/hrygo/agentworld/store"
	"github.com/hrygo/agentworld/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "agentworld",
	Short: "A multi-agent orchestration runtime: worlds of LLM-backed agents with chats, memory and streaming responses.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Load .env from the working directory when present.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:        viper.GetString("mode"),
			Addr:        viper.GetString("addr"),
			Port:        viper.GetInt("port"),
			Data:        viper.GetString("data"),
			StorageType: viper.GetString("storage"),
			DSN:         viper.GetString("dsn"),
			Version:     version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		setupLogging(instanceProfile)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		driver, err := db.NewDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to open storage", "error", err)
			os.Exit(1)
		}
		storeInstance := store.New(driver, instanceProfile)

		exporter := metrics.New(metrics.DefaultConfig())
		manager := engine.New(instanceProfile, storeInstance, engine.Options{Exporter: exporter})
		s := server.New(instanceProfile, manager, exporter)

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal of most process managers.
		signal.Notify(c, terminationSignals...)
		go func() {
			<-c
			cancel()
		}()

		printGreetings(instanceProfile)

		if err := s.Start(ctx); err != nil {
			slog.Error("server exited", "error", err)
		}
		if err := manager.Close(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("storage", "file")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("storage", "file", "storage backend (file, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "sqlite data source name")

	for _, flag := range []string{"mode", "addr", "port", "data", "storage", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("agent_world")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setupLogging installs the JSON slog handler wrapped with the log-stream
// fan-out so subscribed front-ends see every record.
func setupLogging(p *profile.Profile) {
	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(logstream.NewHandler(inner)))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Agent World %s started successfully!\n", p.Version)
	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Storage backend: %s\n", p.StorageType)
	fmt.Printf("Mode: %s\n", p.Mode)
	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
