package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Verify logout clears the session",
	Long: `Log in end to end, run "anaconda auth logout", and confirm a
follow-up whoami no longer succeeds. With --not-logged-in the login is
skipped and logout is checked to be a clean no-op on a fresh home.`,
	RunE: runLogout,
}

var logoutFresh bool

func init() {
	rootCmd.AddCommand(logoutCmd)
	logoutCmd.Flags().BoolVar(&logoutFresh, "not-logged-in", false, "Check logout on a home with no session")
}

func runLogout(cmd *cobra.Command, args []string) error {
	h, err := newHarness(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	started := time.Now()
	scenario := "logout"
	if logoutFresh {
		scenario = "logout-not-logged-in"
		err = h.orc.LogoutWhenNotLoggedIn(cmd.Context(), h.ws)
	} else {
		err = h.orc.Logout(cmd.Context(), h.ws)
	}
	h.record(scenario, nil, started, err == nil)
	if err != nil {
		return err
	}

	fmt.Printf("%s ok in %s\n", scenario, time.Since(started).Round(time.Millisecond))
	return nil
}
