package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Verify whoami reports the signed-in user",
	Long: `Log in end to end and confirm "anaconda auth whoami" prints the
signed-in identity. With --not-logged-in the login is skipped and whoami
is expected to fail with an authentication error on a fresh home.`,
	RunE: runWhoami,
}

var apiKeyCmd = &cobra.Command{
	Use:   "api-key",
	Short: "Verify a logged-in CLI can print its API key",
	Long: `Log in end to end and confirm "anaconda auth api-key" prints a
key. With --not-logged-in the login is skipped and api-key is expected to
fail with an authentication error on a fresh home.`,
	RunE: runAPIKey,
}

var (
	whoamiFresh bool
	apiKeyFresh bool
)

func init() {
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(apiKeyCmd)
	whoamiCmd.Flags().BoolVar(&whoamiFresh, "not-logged-in", false, "Check whoami fails on a home with no session")
	apiKeyCmd.Flags().BoolVar(&apiKeyFresh, "not-logged-in", false, "Check api-key fails on a home with no session")
}

func runWhoami(cmd *cobra.Command, args []string) error {
	h, err := newHarness(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	started := time.Now()
	scenario := "whoami"
	if whoamiFresh {
		scenario = "whoami-not-logged-in"
		err = h.orc.WhoamiNotLoggedIn(cmd.Context(), h.ws)
	} else {
		err = h.orc.Whoami(cmd.Context(), h.ws)
	}
	h.record(scenario, nil, started, err == nil)
	if err != nil {
		return err
	}

	fmt.Printf("%s ok in %s\n", scenario, time.Since(started).Round(time.Millisecond))
	return nil
}

func runAPIKey(cmd *cobra.Command, args []string) error {
	h, err := newHarness(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	started := time.Now()
	if apiKeyFresh {
		err = h.orc.APIKeyNotLoggedIn(cmd.Context(), h.ws)
		h.record("api-key-not-logged-in", nil, started, err == nil)
		if err != nil {
			return err
		}
		fmt.Printf("api-key-not-logged-in ok in %s\n", time.Since(started).Round(time.Millisecond))
		return nil
	}

	key, err := h.orc.APIKey(cmd.Context(), h.ws)
	h.record("api-key", nil, started, err == nil)
	if err != nil {
		return err
	}

	fmt.Printf("api-key ok: %d characters in %s\n", len(key), time.Since(started).Round(time.Millisecond))
	return nil
}
