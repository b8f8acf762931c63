package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"boxes-go/internal/app"
	"boxes-go/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a BoxesApp. The caller must defer closeApp.
// operation identifies the CLI command being run (e.g. "Backup", "Serve").
func newApp(ctx context.Context, operation string, args []string) (*app.BoxesApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewBoxesApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	a.SetParameters(strings.Join(args, " "))
	return a, nil
}

// closeApp closes a, marking the operation failed when *errp is set.
func closeApp(a *app.BoxesApp, errp *error) {
	if *errp != nil {
		a.Fail()
	}
	if err := a.Close(); err != nil && *errp == nil {
		*errp = err
	}
}

var rootCmd = &cobra.Command{
	Use:           "boxes",
	Short:         "Personal inventory tracker",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// backup and restore
	backupCmd.Flags().StringVarP(&flagBackupOut, "output", "o", "", "Archive file or directory (default: current directory)")
	backupCmd.Flags().StringVar(&flagBackupVault, "vault", "", "Push the archive to this vault instead of writing a file")
	backupCmd.Flags().BoolVar(&flagBackupToVault, "push", false, "Push the archive to the first configured vault")
	restoreCmd.Flags().StringVar(&flagRestoreVault, "vault", "", "Vault to download the archive from")
	restoreCmd.Flags().StringVar(&flagRestoreArchive, "archive", "", "Archive key inside the vault")

	// vault subcommands
	vaultCmd.AddCommand(vaultListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)
	keysCmd.AddCommand(keysShowCmd)

	// inventory
	boxAddCmd.Flags().StringVarP(&flagBoxLocation, "location", "l", "", "Where the box is kept")
	boxAddCmd.Flags().StringVarP(&flagBoxDescription, "description", "d", "", "Description")
	boxCmd.AddCommand(boxAddCmd)
	boxCmd.AddCommand(boxListCmd)
	boxCmd.AddCommand(boxRmCmd)

	itemAddCmd.Flags().Int64VarP(&flagItemQuantity, "quantity", "q", 1, "Quantity")
	itemAddCmd.Flags().StringVarP(&flagItemDetails, "details", "d", "", "Details")
	itemAddCmd.Flags().Float64Var(&flagItemValue, "value", -1, "Monetary value")
	itemAddCmd.Flags().StringVar(&flagItemReceipt, "receipt", "", "Receipt file to attach")
	itemCmd.AddCommand(itemAddCmd)
	itemCmd.AddCommand(itemListCmd)
	itemCmd.AddCommand(itemRmCmd)

	locationAddCmd.Flags().StringVarP(&flagLocationDescription, "description", "d", "", "Description")
	locationCmd.AddCommand(locationAddCmd)
	locationCmd.AddCommand(locationListCmd)
	locationCmd.AddCommand(locationRmCmd)

	activityCmd.Flags().IntVarP(&flagActivityLimit, "limit", "n", 50, "Maximum number of records to show")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(boxCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(locationCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(statsCmd)
}
