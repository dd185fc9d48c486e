package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/openmined/syftbus/internal/server"
	"github.com/openmined/syftbus/internal/version"
)

func main() {
	var certFile string
	var keyFile string
	var addr string
	var dataDir string
	var dbPath string

	// local overrides for dev deployments
	_ = godotenv.Load()

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rootCmd = &cobra.Command{
		Use:     "server",
		Short:   "SyftBus Server CLI",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := &server.Config{
				HTTPAddr: addr,
				DataDir:  dataDir,
				DBPath:   dbPath,
				CertFile: certFile,
				KeyFile:  keyFile,
			}
			s, err := server.New(config)
			if err != nil {
				return err
			}
			defer slog.Info("Bye!")
			return s.Start(cmd.Context())
		},
	}

	rootCmd.Flags().StringVarP(&dataDir, "datadir", "d", "./data", "Root of the datasites tree")
	rootCmd.Flags().StringVarP(&dbPath, "db", "D", "", "Path to the permission index db (default in-memory)")
	rootCmd.Flags().StringVarP(&certFile, "cert", "c", "", "Path to the certificate file")
	rootCmd.Flags().StringVarP(&keyFile, "key", "k", "", "Path to the key file")
	rootCmd.Flags().StringVarP(&addr, "bind", "b", server.DefaultAddr, "Address to bind the server")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
