package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/griddeck/griddeck/internal/shared"
)

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List connected devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var devices []shared.DeviceInfo
			if err := request("GET", "/devices", nil, &devices); err != nil {
				return err
			}
			if done, err := printJSON(cmd, devices); done {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No devices connected")
				return nil
			}
			printDeviceTable(devices)
			return nil
		},
	}
	cmd.AddCommand(deviceCreateCmd())
	return cmd
}

func deviceCreateCmd() *cobra.Command {
	var rows, columns, sliders uint8
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a virtual device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := struct {
				Rows    uint8 `json:"rows"`
				Columns uint8 `json:"columns"`
				Sliders uint8 `json:"sliders"`
			}{Rows: rows, Columns: columns, Sliders: sliders}
			var info shared.DeviceInfo
			if err := request("POST", "/devices", body, &info); err != nil {
				return err
			}
			if done, err := printJSON(cmd, info); done {
				return err
			}
			fmt.Printf("Created %s (%dx%d, %d sliders)\n", info.ID, info.Rows, info.Columns, info.Sliders)
			return nil
		},
	}
	cmd.Flags().Uint8Var(&rows, "rows", 3, "key rows")
	cmd.Flags().Uint8Var(&columns, "columns", 3, "key columns")
	cmd.Flags().Uint8Var(&sliders, "sliders", 0, "slider count")
	return cmd
}

func printDeviceTable(devices []shared.DeviceInfo) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tSLIDERS\tPLUGIN")
	for _, d := range devices {
		plugin := d.Plugin
		if plugin == "" {
			plugin = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%d\t%s\n", d.ID, d.Name, d.Rows, d.Columns, d.Sliders, plugin)
	}
	w.Flush()
}
