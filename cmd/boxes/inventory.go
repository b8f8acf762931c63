package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"boxes-go/internal/inventory"
	"boxes-go/internal/model"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	flagBoxLocation         string
	flagBoxDescription      string
	flagItemQuantity        int64
	flagItemDetails         string
	flagItemValue           float64
	flagItemReceipt         string
	flagLocationDescription string
	flagActivityLimit       int
)

// box commands
var boxCmd = &cobra.Command{
	Use:   "box",
	Short: "Manage boxes",
}

var boxAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "BoxAdd", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		b, err := a.Inventory().CreateBox(ctx, inventory.BoxInput{
			Name:        args[0],
			Location:    flagBoxLocation,
			Description: flagBoxDescription,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created box %s\n", b.ID)
		return nil
	},
}

var boxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List boxes",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "BoxList", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		bs, err := a.Inventory().ListBoxes(ctx)
		if err != nil {
			return err
		}
		renderBoxes(bs)
		return nil
	},
}

var boxRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a box and its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "BoxRemove", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if err := a.Inventory().DeleteBox(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted box %s\n", args[0])
		return nil
	},
}

// item commands
var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage items",
}

var itemAddCmd = &cobra.Command{
	Use:   "add BOX_ID NAME",
	Short: "Add an item to a box",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "ItemAdd", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		in := inventory.ItemInput{
			Name:     args[1],
			Quantity: flagItemQuantity,
			Details:  flagItemDetails,
		}
		if cmd.Flags().Changed("value") {
			v := flagItemValue
			in.Value = &v
		}
		if flagItemReceipt != "" {
			f, err := os.Open(flagItemReceipt)
			if err != nil {
				return fmt.Errorf("opening receipt: %w", err)
			}
			defer f.Close()
			in.Receipt = &inventory.ReceiptUpload{Filename: filepath.Base(flagItemReceipt), Body: f}
		}

		it, err := a.Inventory().AddItem(ctx, args[0], in)
		if err != nil {
			return err
		}
		fmt.Printf("Added item %s\n", it.ID)
		return nil
	},
}

var itemListCmd = &cobra.Command{
	Use:   "list BOX_ID",
	Short: "List the items of a box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "ItemList", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		items, err := a.Inventory().ListItems(ctx, args[0])
		if err != nil {
			return err
		}
		renderItems(items)
		return nil
	},
}

var itemRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "ItemRemove", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if err := a.Inventory().DeleteItem(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted item %s\n", args[0])
		return nil
	},
}

// location commands
var locationCmd = &cobra.Command{
	Use:   "location",
	Short: "Manage locations",
}

var locationAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "LocationAdd", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		in := inventory.LocationInput{Name: args[0]}
		if flagLocationDescription != "" {
			in.Description = &flagLocationDescription
		}
		loc, err := a.Inventory().CreateLocation(ctx, in)
		if err != nil {
			return err
		}
		fmt.Printf("Created location %s\n", loc.ID)
		return nil
	},
}

var locationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List locations",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "LocationList", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		locs, err := a.Inventory().ListLocations(ctx)
		if err != nil {
			return err
		}
		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"ID", "NAME", "DESCRIPTION"})
		for _, l := range locs {
			tw.Append([]string{l.ID, l.Name, ptrS(l.Description)})
		}
		tw.Render()
		return nil
	},
}

var locationRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete an unused location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "LocationRemove", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if err := a.Inventory().DeleteLocation(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted location %s\n", args[0])
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Find boxes and items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "Search", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		res, err := a.Inventory().Search(ctx, args[0])
		if err != nil {
			return err
		}
		if len(res.Boxes) == 0 && len(res.Items) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		if len(res.Boxes) > 0 {
			renderBoxes(res.Boxes)
		}
		if len(res.Items) > 0 {
			renderItems(res.Items)
		}
		return nil
	},
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show the activity log",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "Activity", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		acts, err := a.Inventory().Activity(ctx, flagActivityLimit)
		if err != nil {
			return err
		}
		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"#", "WHEN", "ACTION", "TYPE", "NAME", "DETAILS"})
		for _, act := range acts {
			tw.Append([]string{
				strconv.FormatInt(act.ID, 10),
				act.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				act.Action,
				act.EntityType,
				act.EntityName,
				act.Details,
			})
		}
		tw.Render()
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the inventory",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := context.Background()
		a, err := newApp(ctx, "Stats", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		st, err := a.Inventory().Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Boxes:     %d\nItems:     %d\nLocations: %d\nActivity:  %d\n", st.Boxes, st.Items, st.Locations, st.Activity)
		return nil
	},
}

func renderBoxes(bs []*model.Box) {
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "NAME", "LOCATION", "CREATED_AT"})
	for _, b := range bs {
		tw.Append([]string{b.ID, b.Name, b.Location, b.CreatedAt.Format(time.RFC3339)})
	}
	tw.Render()
}

func renderItems(items []*model.Item) {
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "BOX", "NAME", "QTY", "VALUE", "RECEIPT"})
	for _, it := range items {
		value := ""
		if it.Value != nil {
			value = strconv.FormatFloat(*it.Value, 'f', 2, 64)
		}
		tw.Append([]string{it.ID, it.BoxID, it.Name, strconv.FormatInt(it.Quantity, 10), value, ptrS(it.ReceiptFilename)})
	}
	tw.Render()
}

func ptrS(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
