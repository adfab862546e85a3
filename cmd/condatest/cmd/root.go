package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/anaconda/anaconda-cli-testing/internal/backend"
	"github.com/anaconda/anaconda-cli-testing/internal/browser"
	"github.com/anaconda/anaconda-cli-testing/internal/config"
	"github.com/anaconda/anaconda-cli-testing/internal/flow"
	"github.com/anaconda/anaconda-cli-testing/internal/report"
)

var rootCmd = &cobra.Command{
	Use:   "condatest",
	Short: "End-to-end harness for the anaconda auth CLI",
	Long: `condatest drives the anaconda CLI through its real OAuth login flows:
it spawns the CLI, intercepts the browser launch, completes the
authorization transaction against the live backend with a headless
browser, answers the CLI's interactive prompts, and verifies the result.

Credentials and service endpoints come from the environment (or a .env
file): ANACONDA_API_BASE, ANACONDA_UI_BASE, HUB_EMAIL, HUB_PASSWORD.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		// Flags are parsed by now; pick the handler accordingly.
		slog.SetDefault(buildLogger())
	},
}

var (
	rootVerbose   bool
	rootJSONLogs  bool
	rootEnvFile   string
	rootOverrides string
	rootResultsDB string
	rootCLIPath   string
	rootKeepWS    bool
	rootWSDir     string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVar(&rootJSONLogs, "json", false, "Output logs in JSON format (default when stderr is not a terminal)")
	pf.StringVar(&rootEnvFile, "env-file", "", "Path to a .env file with credentials and endpoints")
	pf.StringVar(&rootOverrides, "config", "", "Path to a YAML file overriding timeouts and defaults")
	pf.StringVar(&rootResultsDB, "results", "", "SQLite file to record outcomes in (empty disables recording)")
	pf.StringVar(&rootCLIPath, "cli", "", "Path to the anaconda executable under test")
	pf.BoolVar(&rootKeepWS, "keep-workspace", false, "Keep the flow workspace on disk for inspection")
	pf.StringVar(&rootWSDir, "workspace", "", "Existing directory to use as the flow workspace")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		return err
	}
	return nil
}

func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	if rootVerbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if rootJSONLogs || !term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// harness bundles everything a scenario command needs: the orchestrator
// with a live browser page and backend client, the flow workspace, and an
// optional results store.
type harness struct {
	orc   *flow.Orchestrator
	ws    *flow.Workspace
	store *report.Store
	log   *slog.Logger

	closePage func()
}

func newHarness(cmd *cobra.Command) (*harness, error) {
	log := buildLogger()

	cfg, err := config.Load(rootEnvFile, rootOverrides)
	if err != nil {
		return nil, err
	}
	if rootCLIPath != "" {
		cfg.CLIPath = rootCLIPath
	}

	ws, err := flow.NewWorkspace(rootWSDir)
	if err != nil {
		return nil, err
	}

	page, err := browser.NewPage(cmd.Context(), browser.Options{
		Headless: cfg.Headless,
		Logger:   log,
	})
	if err != nil {
		ws.Cleanup()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	h := &harness{
		orc: &flow.Orchestrator{
			Cfg:    cfg,
			API:    backend.New(cfg.APIBase, log),
			Page:   page,
			Logger: log,
		},
		ws:        ws,
		log:       log,
		closePage: func() { _ = page.Close() },
	}

	if rootResultsDB != "" {
		store, err := report.OpenAt(rootResultsDB)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.store = store
	}
	return h, nil
}

func (h *harness) Close() {
	if h.closePage != nil {
		h.closePage()
	}
	if h.store != nil {
		h.store.Close()
	}
	if rootKeepWS {
		h.log.Info("workspace kept", "root", h.ws.Root)
		return
	}
	h.ws.Cleanup()
}

// record persists one outcome when a results database is configured.
func (h *harness) record(scenario string, res *flow.Result, started time.Time, passed bool) {
	if h.store == nil {
		return
	}

	e := report.Entry{
		Scenario:  scenario,
		StartedAt: started,
		Duration:  time.Since(started),
		Passed:    passed,
		ExitCode:  -1,
	}
	if res != nil {
		e.FlowID = res.FlowID
		e.OAuthCompleted = res.OAuthCompleted
		e.StateProvenance = string(res.StateProvenance)
		e.TokenInstalled = res.TokenInstalled
		e.SawSuccess = res.SawSuccess
		e.TimedOut = res.TimedOut
		e.ExitCode = res.ExitCode
		e.OutputTail = res.Tail(20)
	} else {
		e.FlowID = "none"
	}

	if _, err := h.store.Record(e); err != nil {
		h.log.Warn("failed to record outcome", "scenario", scenario, "error", err)
	}
}
