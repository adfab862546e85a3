package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the full OAuth login flow end to end",
	Long: `Authenticate through the API, establish a signed-in browser session,
run "anaconda auth login" with the browser launch intercepted, and verify
the local-login-success page.

Examples:
  condatest login
  condatest login --cli ./dist/anaconda --results results.db`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	h, err := newHarness(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	started := time.Now()
	res, err := h.orc.Login(cmd.Context(), h.ws)
	h.record("login", res, started, err == nil)
	if err != nil {
		return err
	}

	fmt.Printf("login ok: flow=%s state_via=%s exit=%d in %s\n",
		res.FlowID, res.StateProvenance, res.ExitCode, time.Since(started).Round(time.Millisecond))
	return nil
}
