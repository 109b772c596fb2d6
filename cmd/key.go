package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/multiqa/multiqa-gateway/internal/handlers"
	"github.com/multiqa/multiqa-gateway/internal/providers"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage stored provider API keys",
	Long:  `Inspect, store, and remove upstream API keys kept in the durable key store.`,
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List key status for all providers",
	RunE:  runKeyList,
}

var keySetCmd = &cobra.Command{
	Use:   "set <provider> <key>",
	Short: "Store an API key for a provider",
	Args:  cobra.ExactArgs(2),
	RunE:  runKeySet,
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete <provider>",
	Short: "Remove a provider's stored API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyDelete,
}

func init() {
	keyCmd.AddCommand(keyListCmd)
	keyCmd.AddCommand(keySetCmd)
	keyCmd.AddCommand(keyDeleteCmd)
}

func runKeyList(cmd *cobra.Command, _ []string) error {
	if err := keys.Load(); err != nil {
		return err
	}

	registry := newRegistry()

	color.Blue("Stored keys (%s):", keys.GetPath())

	names := registry.List()
	sort.Strings(names)

	for _, name := range names {
		stored := keys.Get(name)
		if stored == "" {
			fmt.Printf("  %-12s: (none)\n", name)
			continue
		}

		fmt.Printf("  %-12s: %s\n", name, handlers.MaskKey(stored))
	}

	return nil
}

func runKeySet(cmd *cobra.Command, args []string) error {
	provider := strings.ToLower(args[0])
	key := strings.TrimSpace(args[1])

	registry := newRegistry()
	if _, err := registry.Resolve(provider); err != nil {
		return err
	}

	if !strings.HasPrefix(key, handlers.KeyPrefix) {
		return fmt.Errorf("key must start with %q", handlers.KeyPrefix)
	}

	if err := keys.Load(); err != nil {
		return err
	}

	if err := keys.Set(provider, key); err != nil {
		return err
	}

	color.Green("Stored key for %s (%s)", provider, handlers.MaskKey(key))

	return nil
}

func runKeyDelete(cmd *cobra.Command, args []string) error {
	provider := strings.ToLower(args[0])

	if err := keys.Load(); err != nil {
		return err
	}

	if err := keys.Delete(provider); err != nil {
		return err
	}

	color.Green("Removed stored key for %s", provider)

	return nil
}

func newRegistry() *providers.Registry {
	registry := providers.NewRegistry()
	registry.Initialize()

	return registry
}
