package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/config"
	"github.com/Sharif2023/StudyNest-sub001/internal/hub"
	"github.com/Sharif2023/StudyNest-sub001/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var (
	flagAddress     string
	flagRegistryURL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling hub",
	Long: `Run the signaling hub and its HTTP API.

Examples:
  studyroom serve
  studyroom serve --addr :9000 --registry https://nest.example.com/api/meetings/occupancy`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{
			Address:     flagAddress,
			RegistryURL: flagRegistryURL,
		})
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&flagAddress, "addr", "a", "", "HTTP listen address (default :8080)")
	serveCmd.Flags().StringVar(&flagRegistryURL, "registry", "", "Meeting registry endpoint notified on joins and leaves")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.Default().With("component", "hub")

	opts := []hub.Option{hub.WithLogger(log)}
	if cfg.Registry.URL != "" {
		opts = append(opts, hub.WithNotifier(hub.NewNotifier(cfg.Registry.URL), cfg.Registry.Timeout))
	}
	h := hub.New(opts...)

	rooms := server.NewRoomController(h, cfg.HTTP.AllowedOrigins, log)
	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           server.SetupRouter(rooms, cfg.HTTP.AllowedOrigins, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		h.Run(ctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("starting signaling hub", "addr", cfg.HTTP.Address, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("signaling hub stopped")
	return nil
}
