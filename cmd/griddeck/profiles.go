package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

type profileListing struct {
	Profiles []string `json:"profiles"`
	Selected string   `json:"selected"`
}

func profilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles <device>",
		Short: "List profiles for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var listing profileListing
			path := "/profiles?device=" + url.QueryEscape(args[0])
			if err := request("GET", path, nil, &listing); err != nil {
				return err
			}
			if done, err := printJSON(cmd, listing); done {
				return err
			}
			for _, name := range listing.Profiles {
				marker := " "
				if name == listing.Selected {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, name)
			}
			return nil
		},
	}
	cmd.AddCommand(profileSelectCmd())
	cmd.AddCommand(profileDeleteCmd())
	return cmd
}

func profileSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <device> <profile>",
		Short: "Switch the active profile on a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := struct {
				Device  string `json:"device"`
				Profile string `json:"profile"`
			}{Device: args[0], Profile: args[1]}
			if err := request("POST", "/profiles", body, nil); err != nil {
				return err
			}
			fmt.Printf("Selected profile %q on %s\n", args[1], args[0])
			return nil
		},
	}
}

func profileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <device> <profile>",
		Short: "Delete a profile from a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/profiles?device=%s&profile=%s",
				url.QueryEscape(args[0]), url.QueryEscape(args[1]))
			if err := request("DELETE", path, nil, nil); err != nil {
				return err
			}
			fmt.Printf("Deleted profile %q from %s\n", args[1], args[0])
			return nil
		},
	}
}
