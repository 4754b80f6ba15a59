package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"beohub/config"
	"beohub/logger"
	"beohub/protocol"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// engineCmd runs the protocol engine process
var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run the protocol engine",
	Long: `Run the protocol engine process. It opens the amplifier's USB control bus,
maintains the mixer state machine, forwards decoded remote-control events to
the router and serves the local mixer HTTP API.`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(engineCmd)

	engineCmd.Flags().String("vendor-id", "", "USB vendor id of the amplifier controller (hex)")
	engineCmd.Flags().String("product-id", "", "USB product id of the amplifier controller (hex)")
	engineCmd.Flags().Int("mixer-port", 8375, "mixer API port")
	engineCmd.Flags().String("router-url", "http://127.0.0.1:8374", "router base URL")
	engineCmd.Flags().Int("max-volume", 70, "maximum device volume")

	viper.BindPFlag("engine.vendor_id", engineCmd.Flags().Lookup("vendor-id"))
	viper.BindPFlag("engine.product_id", engineCmd.Flags().Lookup("product-id"))
	viper.BindPFlag("engine.mixer_port", engineCmd.Flags().Lookup("mixer-port"))
	viper.BindPFlag("engine.router_url", engineCmd.Flags().Lookup("router-url"))
	viper.BindPFlag("engine.max_volume", engineCmd.Flags().Lookup("max-volume"))
}

func runEngine(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := protocol.NewEngine(cfg.Engine)
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("engine failed: %w", err)
	}
	return nil
}
