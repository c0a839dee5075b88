package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/griddeck/griddeck/internal/shared"
)

type pluginListing struct {
	Categories map[string][]shared.Action `json:"categories"`
	Plugins    []pluginStatus             `json:"plugins"`
}

type pluginStatus struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	Connected bool   `json:"connected"`
}

func pluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var listing pluginListing
			if err := request("GET", "/plugins", nil, &listing); err != nil {
				return err
			}
			if done, err := printJSON(cmd, listing); done {
				return err
			}
			if len(listing.Plugins) == 0 {
				fmt.Println("No plugins installed")
				return nil
			}
			printPluginTable(listing)
			return nil
		},
	}
	cmd.AddCommand(pluginInstallCmd())
	cmd.AddCommand(pluginRemoveCmd())
	cmd.AddCommand(pluginReloadCmd())
	return cmd
}

func pluginInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <id> <archive>",
		Short: "Install a plugin from a zip archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The daemon reads the archive itself, so hand it an absolute
			// path that survives the differing working directories.
			archive, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			body := struct {
				ID   string `json:"id"`
				Path string `json:"path"`
			}{ID: args[0], Path: archive}
			if err := request("POST", "/plugins/install", body, nil); err != nil {
				return err
			}
			fmt.Printf("Installed %s\n", args[0])
			return nil
		},
	}
}

func pluginRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := struct {
				ID string `json:"id"`
			}{ID: args[0]}
			if err := request("POST", "/plugins/remove", body, nil); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}

func pluginReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload <id>",
		Short: "Restart a plugin process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := struct {
				ID string `json:"id"`
			}{ID: args[0]}
			if err := request("POST", "/plugins/reload", body, nil); err != nil {
				return err
			}
			fmt.Printf("Reloaded %s\n", args[0])
			return nil
		},
	}
}

func printPluginTable(listing pluginListing) {
	actionCounts := make(map[string]int)
	for _, actions := range listing.Categories {
		for _, action := range actions {
			actionCounts[action.Plugin]++
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tCONNECTED\tACTIONS")
	for _, p := range listing.Plugins {
		connected := "no"
		if p.Connected {
			connected = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.ID, p.Version, connected, actionCounts[p.ID])
	}
	w.Flush()
}
