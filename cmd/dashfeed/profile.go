package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tangkapin/dashfeed/internal/config"
	"github.com/tangkapin/dashfeed/internal/ui"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	Short:   "Manage named connection profiles",
	GroupID: "system",
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name> <api-url>",
	Short: "Add or update a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, apiURL := args[0], args[1]
		token, _ := cmd.Flags().GetString("token")
		natsURL, _ := cmd.Flags().GetString("nats")
		relayURL, _ := cmd.Flags().GetString("relay")

		ps, err := config.LoadProfiles()
		if err != nil {
			return err
		}
		p := ps.Profiles[name]
		p.APIURL = apiURL
		if cmd.Flags().Changed("token") {
			p.Token = token
		}
		if cmd.Flags().Changed("nats") {
			p.NATSURL = natsURL
		}
		if cmd.Flags().Changed("relay") {
			p.RelayURL = relayURL
		}
		ps.Profiles[name] = p
		if ps.Active == "" {
			ps.Active = name
		}
		if err := config.SaveProfiles(ps); err != nil {
			return err
		}
		fmt.Printf("profile %q saved (%s)\n", name, apiURL)
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := config.LoadProfiles()
		if err != nil {
			return err
		}
		if err := ps.Remove(args[0]); err != nil {
			return err
		}
		if err := config.SaveProfiles(ps); err != nil {
			return err
		}
		fmt.Printf("profile %q removed\n", args[0])
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the active profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := config.LoadProfiles()
		if err != nil {
			return err
		}
		if err := ps.Use(args[0]); err != nil {
			return err
		}
		if err := config.SaveProfiles(ps); err != nil {
			return err
		}
		fmt.Printf("active profile set to %q\n", args[0])
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := config.LoadProfiles()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(redactProfiles(ps))
		}
		if len(ps.Profiles) == 0 {
			fmt.Println("no profiles configured")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tAPI\tNATS\tRELAY\tTOKEN")
		for _, name := range ps.Names() {
			p := ps.Profiles[name]
			marker := "  "
			if name == ps.Active {
				marker = ui.RenderOK("* ")
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t%s\n", marker, name, p.APIURL, p.NATSURL, p.RelayURL, maskToken(p.Token))
		}
		return w.Flush()
	},
}

func init() {
	profileAddCmd.Flags().String("token", "", "API token")
	profileAddCmd.Flags().String("nats", "", "NATS URL for the incident channel")
	profileAddCmd.Flags().String("relay", "", "relay URL for the incident channel over SSE")

	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileRemoveCmd)
	profileCmd.AddCommand(profileUseCmd)
	profileCmd.AddCommand(profileListCmd)
}

func maskToken(t string) string {
	if len(t) > 8 {
		return t[:8] + "..."
	}
	return t
}

func redactProfiles(ps config.Profiles) config.Profiles {
	out := config.Profiles{Active: ps.Active, Profiles: make(map[string]config.Profile, len(ps.Profiles))}
	for name, p := range ps.Profiles {
		p.Token = maskToken(p.Token)
		out.Profiles[name] = p
	}
	return out
}
