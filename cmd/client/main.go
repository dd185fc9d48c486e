package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openmined/syftbus/internal/client"
	"github.com/openmined/syftbus/internal/utils"
	"github.com/openmined/syftbus/internal/version"
)

var (
	home, _           = os.UserHomeDir()
	defaultDataDir    = filepath.Join(home, "SyftBus")
	defaultConfigPath = filepath.Join(home, ".syftbus", "config.json")
	defaultLogPath    = filepath.Join(home, ".syftbus", "logs", "client.log")
	configFileName    = "config"
)

var cyan = color.New(color.FgHiCyan, color.Bold).SprintFunc()

var rootCmd = &cobra.Command{
	Use:     "syftbus",
	Short:   "SyftBus client daemon",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &client.Config{
			Path:         viper.ConfigFileUsed(),
			Email:        viper.GetString("email"),
			DataDir:      viper.GetString("data_dir"),
			ServerURL:    viper.GetString("server_url"),
			GatewayAddr:  viper.GetString("gateway_addr"),
			SyncInterval: viper.GetDuration("sync_interval"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// config is valid, errors past this point are runtime failures
		cmd.SilenceUsage = true
		fmt.Println(cyan(version.AppName), version.Short())

		c, err := client.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		return c.Start(cmd.Context())
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a SyftBus config file from the given flags",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &client.Config{
			Email:       viper.GetString("email"),
			DataDir:     viper.GetString("data_dir"),
			ServerURL:   viper.GetString("server_url"),
			GatewayAddr: viper.GetString("gateway_addr"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		cmd.SilenceUsage = true

		configPath, _ := cmd.Flags().GetString("config")
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("config init: %w", err)
		}
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("config init: %w", err)
		}
		fmt.Println("Config written to", cyan(configPath))
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("email", "e", "", "Email for the SyftBus datasite")
	rootCmd.Flags().StringP("datadir", "d", defaultDataDir, "SyftBus data directory")
	rootCmd.Flags().StringP("server", "s", client.DefaultServerURL, "SyftBus server URL")
	rootCmd.Flags().StringP("gateway", "g", client.DefaultGatewayAddr, "Local RPC gateway address (empty disables)")
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "SyftBus config file")

	initCmd.Flags().StringP("email", "e", "", "Email for the SyftBus datasite")
	initCmd.Flags().StringP("datadir", "d", defaultDataDir, "SyftBus data directory")
	initCmd.Flags().StringP("server", "s", client.DefaultServerURL, "SyftBus server URL")
	initCmd.Flags().StringP("gateway", "g", client.DefaultGatewayAddr, "Local RPC gateway address (empty disables)")
	rootCmd.AddCommand(initCmd)
}

func main() {
	logDir := filepath.Dir(defaultLogPath)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	// fresh log file per run
	file, err := os.OpenFile(defaultLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".syftbus"))
		viper.AddConfigPath(filepath.Join(home, ".config/syftbus"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("email", cmd.Flags().Lookup("email"))
	viper.BindPFlag("data_dir", cmd.Flags().Lookup("datadir"))
	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("gateway_addr", cmd.Flags().Lookup("gateway"))

	viper.SetEnvPrefix("SYFTBUS")
	viper.AutomaticEnv()

	return nil
}
