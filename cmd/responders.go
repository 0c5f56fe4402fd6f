package cmd

import (
	"fmt"
	"log/slog"

	"clawbridge/pkg/config"
	"clawbridge/pkg/logger"
	"clawbridge/pkg/responder"
	"clawbridge/pkg/workspace"

	"github.com/spf13/cobra"
)

// respondersCmd loads the plugin directory once and reports what the
// gateway would see, without connecting to any channel.
var respondersCmd = &cobra.Command{
	Use:   "responders",
	Short: "List loadable responder plugins",
	Long:  "Scans the responder plugin directory, loads each shared object, and reports which responders the gateway would register.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.responders")

		dir := cfg.Responders.Dir
		if dir == "" {
			layout, err := workspace.Resolve(cfg.Agents.Defaults.Home)
			if err != nil {
				log.Error("Failed to resolve workspace", "error", err)
				return
			}
			dir = layout.RespondersDir()
		}

		registry := responder.NewRegistry(dir, log)
		if err := registry.Load(dir); err != nil {
			log.Error("Failed to scan responder directory", "dir", dir, "error", err)
			return
		}

		fmt.Printf("responder directory: %s\n", dir)
		fmt.Printf("loaded responders: %d\n", registry.Count())
		for _, name := range registry.Names() {
			fmt.Printf("  - %s\n", name)
		}
	},
}

func init() {
	rootCmd.AddCommand(respondersCmd)
}
