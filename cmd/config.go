package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/multiqa/multiqa-gateway/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the gateway configuration file.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize the configuration file by prompting for gateway details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after defaults are applied.`,
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("MultiQA Gateway Configuration Setup")
	color.Yellow("Press Enter to keep the default for any prompt.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("\nHost [%s]: ", config.DefaultHost)
	host, _ := reader.ReadString('\n')
	host = strings.TrimSpace(host)

	fmt.Printf("Port [%d]: ", config.DefaultPort)
	portStr, _ := reader.ReadString('\n')
	portStr = strings.TrimSpace(portStr)

	port := 0
	if portStr != "" {
		var err error
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", portStr, err)
		}
	}

	fmt.Printf("Upstream URL [%s]: ", config.DefaultUpstreamURL)
	upstream, _ := reader.ReadString('\n')
	upstream = strings.TrimSpace(upstream)

	fmt.Print("Web UI directory (optional): ")
	webDir, _ := reader.ReadString('\n')
	webDir = strings.TrimSpace(webDir)

	cfg := &config.Config{
		Host:        host,
		Port:        port,
		UpstreamURL: upstream,
		WebDir:      webDir,
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the gateway with: multiqa start")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration file found; the gateway will run with defaults.")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "Upstream URL", cfg.UpstreamURL)
	fmt.Printf("  %-15s: %s\n", "Referer", cfg.Referer)
	fmt.Printf("  %-15s: %s\n", "Title", cfg.Title)

	if cfg.WebDir != "" {
		fmt.Printf("  %-15s: %s\n", "Web Directory", cfg.WebDir)
	}

	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	if len(cfg.Providers) > 0 {
		fmt.Println("\nProvider Overrides:")

		for _, override := range cfg.Providers {
			fmt.Printf("  - Name: %s\n", override.Name)

			if override.DefaultModel != "" {
				fmt.Printf("    Model: %s\n", override.DefaultModel)
			}

			if override.DefaultSystem != "" {
				fmt.Printf("    System Prompt: %s\n", override.DefaultSystem)
			}

			if override.DefaultKey != "" {
				fmt.Printf("    Default Key: %s\n", maskString(override.DefaultKey))
			}
		}
	}

	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
