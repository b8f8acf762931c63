package main

import (
	"context"
	"errors"
	"fmt"

	"boxes-go/internal/app"
	"boxes-go/internal/backup"

	"github.com/spf13/cobra"
)

var (
	flagBackupOut      string
	flagBackupVault    string
	flagBackupToVault  bool
	flagRestoreVault   string
	flagRestoreArchive string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a backup archive of the store and attachments",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "Backup", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if flagBackupVault != "" || flagBackupToVault {
			key, m, err := a.PushBackup(ctx, flagBackupVault)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Printf("Pushed %s (%d attachment(s))\n", key, m.Attachments)
			return nil
		}

		path, m, err := a.BackupToFile(ctx, flagBackupOut)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("Wrote %s (%d attachment(s))\n", path, m.Attachments)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [FILE]",
	Short: "Replace the store and attachments with a backup archive",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		fromVault := flagRestoreArchive != ""
		if fromVault == (len(args) == 1) {
			return errors.New("give either an archive FILE or --archive KEY [--vault NAME]")
		}

		ctx := context.Background()
		a, err := newApp(ctx, "Restore", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		var res *backup.Result
		if fromVault {
			passphrase := ""
			if app.IsEncryptedArchive(flagRestoreArchive) {
				if passphrase, err = promptSecret("Passphrase: "); err != nil {
					return fmt.Errorf("reading passphrase: %w", err)
				}
			}
			res, err = a.RestoreFromVault(ctx, flagRestoreVault, flagRestoreArchive, passphrase)
		} else {
			res, err = a.Restore(ctx, args[0])
		}
		if err != nil {
			return describeRestoreError(res, err)
		}

		fmt.Printf("Restored in %s\n", res.Duration)
		if res.Manifest != nil {
			fmt.Printf("Archive created %s with %d attachment(s)\n", res.Manifest.CreatedAt, res.Manifest.Attachments)
		}
		return nil
	},
}

// describeRestoreError adds what happened to the live data to err.
func describeRestoreError(res *backup.Result, err error) error {
	switch {
	case !backup.LiveStateChanged(err):
		return fmt.Errorf("restore rejected, nothing was changed: %w", err)
	case res != nil && res.RolledBack:
		return fmt.Errorf("restore failed, previous data was put back: %w", err)
	case res != nil && res.RollbackDir != "":
		return fmt.Errorf("restore failed; previous data is kept in %s, verify the data directory manually: %w", res.RollbackDir, err)
	default:
		return fmt.Errorf("restore failed; verify the data directory manually: %w", err)
	}
}
