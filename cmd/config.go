package cmd

import (
	"fmt"
	"log/slog"

	"beohub/config"
	"beohub/logger"

	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Commands for managing and validating beohub configuration.",
}

// configValidateCmd validates the current configuration
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the current configuration file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Setup("info", "text"); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := cfg.Validate(); err != nil {
			slog.Error("Configuration validation failed", slog.Any("error", err))
			return err
		}

		fmt.Println("Configuration is valid")
		return nil
	},
}

// configShowCmd shows the current configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current configuration values from file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Setup("info", "text"); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Println("Current Configuration:")
		fmt.Printf("  Engine:\n")
		fmt.Printf("    Device: %s (%s:%s)\n", cfg.Engine.DeviceName, cfg.Engine.VendorID, cfg.Engine.ProductID)
		fmt.Printf("    Mixer port: %d\n", cfg.Engine.MixerPort)
		fmt.Printf("    Volume: default %d, max %d\n", cfg.Engine.DefaultVolume, cfg.Engine.MaxVolume)
		fmt.Printf("    Router URL: %s\n", cfg.Engine.RouterURL)
		fmt.Printf("    Relay URL: %s\n", cfg.Engine.RelayURL)
		fmt.Printf("    Queue: capacity %d, expiry %s, priority interval %s\n",
			cfg.Engine.Queue.Capacity, cfg.Engine.Queue.Expiry, cfg.Engine.Queue.PriorityInterval)
		fmt.Printf("  Router:\n")
		fmt.Printf("    Port: %d\n", cfg.Router.Port)
		fmt.Printf("    Volume step: %d\n", cfg.Router.VolumeStep)
		fmt.Printf("    Adapter: %s (%s:%d)\n", cfg.Router.Adapter.Backend, cfg.Router.Adapter.Host, cfg.Router.Adapter.Port)
		fmt.Printf("    Sources: %d pre-registered\n", len(cfg.Router.Sources))
		fmt.Printf("  Logging:\n")
		fmt.Printf("    Level: %s\n", cfg.Logging.Level)
		fmt.Printf("    Format: %s\n", cfg.Logging.Format)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
