package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/credchain/credchain/internal/config"
	"github.com/credchain/credchain/internal/rpc"
	"github.com/credchain/credchain/internal/watch"
)

// RegisterDaemonCommands adds the daemon command.
func RegisterDaemonCommands(root *cobra.Command) {
	root.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the resolver daemon on a unix socket",
		Long: `Run credchain as a long-lived daemon: it watches the profile files,
revalidates on change, and serves credential resolution over a local unix
socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			if socketPath == "" {
				socketPath = a.cfg.SocketPath
			}
			if err := os.MkdirAll(config.ConfigDir(), 0700); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}

			configPath, credentialsPath := config.ProfileFilePaths()
			debounceDelay := time.Duration(a.cfg.DebounceMillis) * time.Millisecond
			if debounceDelay <= 0 {
				debounceDelay = watch.DefaultDebounce
			}
			watcher, err := watch.New([]string{configPath, credentialsPath}, debounceDelay, a.logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go watcher.Run(ctx)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-watcher.Events():
						if err := a.manager.Reload(); err != nil {
							a.logger.Error().Err(err).Msg("profile reload failed")
						}
					}
				}
			}()

			svc := rpc.NewService(a.manager, a.auditLogger, a.logger)
			server, err := rpc.NewServer(socketPath, svc)
			if err != nil {
				return err
			}

			go func() {
				<-ctx.Done()
				server.Stop()
				os.Remove(socketPath)
			}()

			a.logger.Info().Str("socket", socketPath).Msg("daemon listening")
			return server.Serve()
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", "", "Unix socket path (default from config)")
	return cmd
}
