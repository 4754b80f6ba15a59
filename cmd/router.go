package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"beohub/config"
	"beohub/logger"
	"beohub/relay"
	"beohub/router"
	"beohub/volume"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// routerCmd runs the event router process
var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Run the event router",
	Long: `Run the event router process. It is the single ingress for remote/button
events, tracks every playback source's lifecycle, builds the dynamic menu and
drives volume through the configured output adapter.`,
	RunE: runRouter,
}

func init() {
	rootCmd.AddCommand(routerCmd)

	routerCmd.Flags().Int("port", 8374, "router API port")
	routerCmd.Flags().String("adapter", "powerlink", "volume adapter backend (powerlink, snapcast, software)")
	routerCmd.Flags().String("adapter-host", "", "volume adapter target host")
	routerCmd.Flags().Int("adapter-port", 0, "volume adapter target port")
	routerCmd.Flags().Int("volume-step", 4, "per-step volume increment")

	viper.BindPFlag("router.port", routerCmd.Flags().Lookup("port"))
	viper.BindPFlag("router.adapter.backend", routerCmd.Flags().Lookup("adapter"))
	viper.BindPFlag("router.adapter.host", routerCmd.Flags().Lookup("adapter-host"))
	viper.BindPFlag("router.adapter.port", routerCmd.Flags().Lookup("adapter-port"))
	viper.BindPFlag("router.volume_step", routerCmd.Flags().Lookup("volume-step"))
}

func runRouter(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := logger.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	adapter, err := volume.New(cfg.Router.Adapter, cfg.Router.DefaultVolume)
	if err != nil {
		return fmt.Errorf("failed to create volume adapter: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := router.New(cfg.Router, adapter, relay.New(cfg.Router.RelayURL))
	if err := rt.Run(ctx); err != nil {
		return fmt.Errorf("router failed: %w", err)
	}
	return nil
}
