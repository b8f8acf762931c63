package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage off-site archive vaults",
}

var vaultListCmd = &cobra.Command{
	Use:   "list [NAME]",
	Short: "List archives stored in a vault",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "VaultList", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		archives, err := a.ListArchives(ctx, name)
		if err != nil {
			return err
		}
		if len(archives) == 0 {
			fmt.Println("No archives.")
			return nil
		}

		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"KEY", "CREATED_AT", "SIZE"})
		for _, ar := range archives {
			tw.Append([]string{ar.Key, ar.CreatedAt.Format(time.RFC3339), humanSize(ar.Size)})
		}
		tw.Render()
		return nil
	},
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
