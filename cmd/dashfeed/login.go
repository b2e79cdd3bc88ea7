package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tangkapin/dashfeed/internal/config"
	"github.com/tangkapin/dashfeed/internal/ui"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	Short:   "Sign in to the dashboard API and store the token in a profile",
	GroupID: "api",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		name, _ := cmd.Flags().GetString("profile")

		ps, err := config.LoadProfiles()
		if err != nil {
			return err
		}
		name = profileName(ps, name)
		p := ps.Profiles[name]
		if p.APIURL == "" {
			p.APIURL = cfg.APIURL
		}
		if p.APIURL == "" {
			return fmt.Errorf("profile %q has no API URL: set DASHFEED_API_URL or run `dashfeed profile add`", name)
		}

		if email == "" {
			if email, err = prompt("Email: "); err != nil {
				return err
			}
		}
		if password == "" {
			if password, err = promptPassword("Password: "); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cfg.APIURL = p.APIURL
		c, err := apiClient()
		if err != nil {
			return err
		}
		res, err := c.Login(ctx, email, password)
		if err != nil {
			return err
		}

		p.Token = res.Token
		ps.Profiles[name] = p
		if ps.Active == "" {
			ps.Active = name
		}
		if err := config.SaveProfiles(ps); err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(map[string]any{"profile": name, "user": res.User})
		}
		fmt.Printf("logged in as %s (%s), token saved to profile %q\n", res.User.Name, res.User.Role, name)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Revoke the stored token and remove it from the profile",
	GroupID: "api",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("profile")

		ps, err := config.LoadProfiles()
		if err != nil {
			return err
		}
		name = profileName(ps, name)
		p, ok := ps.Profiles[name]
		if !ok || p.Token == "" {
			return fmt.Errorf("profile %q has no stored token", name)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cfg.APIURL, cfg.APIToken = p.APIURL, p.Token
		c, err := apiClient()
		if err != nil {
			return err
		}
		if err := c.Logout(ctx); err != nil {
			// The token is dropped locally either way.
			logger.Warn("logout request failed", "err", err)
		}

		p.Token = ""
		ps.Profiles[name] = p
		if err := config.SaveProfiles(ps); err != nil {
			return err
		}
		fmt.Printf("logged out of profile %q\n", name)
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "account email (prompted when empty)")
	loginCmd.Flags().String("password", "", "account password (prompted when empty)")
	loginCmd.Flags().String("profile", "", "profile to store the token in (default: active profile, or \"default\")")
	logoutCmd.Flags().String("profile", "", "profile to log out of (default: active profile)")
}

func profileName(ps config.Profiles, name string) string {
	switch {
	case name != "":
		return name
	case ps.Active != "":
		return ps.Active
	default:
		return "default"
	}
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, ui.RenderAccent(label))
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(label string) (string, error) {
	if !ui.IsTerminal(os.Stdin) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, ui.RenderAccent(label))
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}
