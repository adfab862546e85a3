package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/anaconda/anaconda-cli-testing/internal/flow"
)

var tokenInstallCmd = &cobra.Command{
	Use:   "token-install",
	Short: "Run the interactive token install flow",
	Long: `Run "anaconda token install --org <org>" end to end: complete the
OAuth login when the CLI asks for it, answer the reissue and condarc
prompts, and verify the resulting .condarc matches the answers given.

Examples:
  condatest token-install                       # accept both prompts
  condatest token-install --reissue n           # keep the existing token
  condatest token-install --condarc n           # decline the channel write`,
	RunE: runTokenInstall,
}

var (
	tokenReissueAnswer string
	tokenCondarcAnswer string
	tokenOrg           string
)

func init() {
	rootCmd.AddCommand(tokenInstallCmd)
	tokenInstallCmd.Flags().StringVar(&tokenReissueAnswer, "reissue", "y", "Answer to the token reissue prompt (y/n)")
	tokenInstallCmd.Flags().StringVar(&tokenCondarcAnswer, "condarc", "y", "Answer to the condarc update prompt (y/n)")
	tokenInstallCmd.Flags().StringVar(&tokenOrg, "org", "", "Organization to install the token for (default from config)")
}

func runTokenInstall(cmd *cobra.Command, args []string) error {
	if err := validAnswer(tokenReissueAnswer); err != nil {
		return err
	}
	if err := validAnswer(tokenCondarcAnswer); err != nil {
		return err
	}

	h, err := newHarness(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	if tokenOrg != "" {
		h.orc.Cfg.Org = tokenOrg
	}

	started := time.Now()
	res, err := h.orc.TokenInstall(cmd.Context(), h.ws, flow.TokenInstallOptions{
		ReissueAnswer: tokenReissueAnswer,
		CondarcAnswer: tokenCondarcAnswer,
	})
	passed := err == nil
	if passed {
		if tokenReissueAnswer == "y" {
			// Accepted installs must leave a condarc matching the answer and
			// a clean exit with the install confirmed.
			if err = flow.VerifyInstalled(res); err == nil {
				err = h.orc.VerifyCondarc(h.ws, tokenCondarcAnswer == "y")
			}
		} else {
			// Keeping the existing token must abort the install outright.
			err = flow.VerifyInstallRejected(res)
		}
		passed = err == nil
	}
	h.record("token-install", res, started, passed)
	if err != nil {
		return err
	}

	fmt.Printf("token-install ok: flow=%s installed=%v prompts=%v exit=%d in %s\n",
		res.FlowID, res.TokenInstalled, res.Prompts, res.ExitCode,
		time.Since(started).Round(time.Millisecond))
	return nil
}

func validAnswer(a string) error {
	if a != "y" && a != "n" {
		return fmt.Errorf("prompt answer must be y or n, got %q", a)
	}
	return nil
}
