package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evanrhodes/tern/internal/config"
	"github.com/evanrhodes/tern/internal/credentials"
)

var configureKey string

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter config file",
	Long: `Write a starter config to the config path (or the --config override)
without overwriting an existing file. With --api-key the key is stored
in the credential file, never in the config itself.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureKey, "api-key", "", "store this API key for the default provider")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	cfg := config.DefaultConfig()
	if err := loader.Save(cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", loader.GetConfigPath())

	if configureKey != "" {
		store, err := credentials.NewFileStore("")
		if err != nil {
			return err
		}
		if err := store.Put(cfg.DefaultProvider, configureKey); err != nil {
			return err
		}
		fmt.Printf("stored API key for %s\n", cfg.DefaultProvider)
	}

	return nil
}
