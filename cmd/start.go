package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/multiqa/multiqa-gateway/internal/process"
	"github.com/multiqa/multiqa-gateway/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway service",
	Long:  `Start the chat-completion gateway service in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	// Setup logging
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	// Load configuration (optional file, defaults otherwise)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	// Load stored API keys; a corrupt file starts empty rather than failing
	if err := keys.Load(); err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"upstream", cfg.UpstreamURL,
	)

	// Setup process management
	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	// Create and start server
	srv := server.New(cfgMgr, keys, logger)
	return srv.Start()
}
