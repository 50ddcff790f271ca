package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/browsergrid/flowkit/pkg/config"
	"github.com/browsergrid/flowkit/pkg/debug"
	"github.com/browsergrid/flowkit/pkg/engine"
	"github.com/browsergrid/flowkit/pkg/executor/sim"
	"github.com/browsergrid/flowkit/pkg/flow"
	"github.com/browsergrid/flowkit/pkg/logger"
	"github.com/browsergrid/flowkit/pkg/report"
	"github.com/browsergrid/flowkit/pkg/validator"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run a flow file",
	ArgsUsage: "<flow-file>",
	Description: `Run a flow file against a browser session.

Examples:
  flowkit run login.yaml
  flowkit run login.yaml --var USER=test --var PASS=secret
  flowkit run checkout.yaml --debug --break 3 --break 7
  flowkit run smoke.yaml --step`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "var",
			Usage: "Seed a global variable (KEY=VALUE)",
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Default retry ceiling for failed steps",
			Value: -1, // -1 = use config value
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Run in debug mode (breakpoints active)",
		},
		&cli.BoolFlag{
			Name:  "step",
			Usage: "Pause before every step (implies debug infrastructure)",
		},
		&cli.IntSliceFlag{
			Name:  "break",
			Usage: "Set a line breakpoint at step N (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "perf",
			Usage: "Print a performance report after the run",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write run reports to this directory (report.json + report.html)",
		},
	},
	Action: runAction,
}

var demoCommand = &cli.Command{
	Name:  "demo",
	Usage: "Run the built-in demonstration flow",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "perf",
			Usage: "Print a performance report after the run",
		},
	},
	Action: demoAction,
}

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Validate flow files without running them",
	ArgsUsage: "<flow-file-or-folder>...",
	Action:    validateAction,
}

func runAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one flow file, got %d arguments", c.NArg())
	}
	path := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogging(c, cfg); err != nil {
		return err
	}
	defer logger.Close()

	f, err := flow.Load(path)
	if err != nil {
		return err
	}
	if errs := validator.New().ValidateFlow(path, f); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  %v\n", e)
		}
		return fmt.Errorf("flow failed validation with %d error(s)", len(errs))
	}

	var builder *report.Builder
	if c.String("report") != "" {
		builder = report.NewBuilder(f.Name)
	}
	eng, err := buildEngine(c, cfg, builder)
	if err != nil {
		return err
	}
	defer eng.Close()
	if err := eng.LoadFlow(f); err != nil {
		return err
	}

	mode := debug.ModeNormal
	if c.Bool("step") {
		mode = debug.ModeStep
	} else if c.Bool("debug") || len(c.IntSlice("break")) > 0 {
		mode = debug.ModeDebug
	}
	for _, n := range c.IntSlice("break") {
		eng.Debug().AddBreakpoint(debug.NewLineBreakpoint(n))
	}
	if mode != debug.ModeNormal {
		eng.Debug().StartDebugging(mode)
		wireDebugPrompt(eng)
	}

	runErr := runFlow(eng, c.Bool("perf"))
	if builder != nil {
		if err := writeReports(builder, c.String("report")); err != nil {
			return err
		}
	}
	return runErr
}

func demoAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogging(c, cfg); err != nil {
		return err
	}
	defer logger.Close()

	eng, err := buildEngine(c, cfg, nil)
	if err != nil {
		return err
	}
	defer eng.Close()
	if err := eng.LoadDemoFlow(); err != nil {
		return err
	}

	return runFlow(eng, c.Bool("perf"))
}

func validateAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("expected at least one flow file or folder")
	}

	v := validator.New()
	failed := false
	for _, path := range c.Args().Slice() {
		result := v.Validate(path)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %v\n", e)
		}
		if result.IsValid() {
			fmt.Printf("%s: %d file(s) OK\n", path, len(result.Files))
		} else {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("validation failed")
	}
	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.LoadFromDir(config.GetHome())
}

func setupLogging(c *cli.Context, cfg *config.Config) error {
	logPath := cfg.ResolveLogPath()
	if p := c.String("log-file"); p != "" {
		logPath = p
	}
	if err := logger.Init(logPath); err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetVerbose(cfg.Verbose || c.Bool("verbose"))
	return nil
}

// buildEngine assembles an engine around the simulated executor, seeding
// variables from config and --var flags. Step progress is printed and, when
// a builder is given, recorded for the run report.
func buildEngine(c *cli.Context, cfg *config.Config, builder *report.Builder) (*engine.Engine, error) {
	variables := map[string]interface{}{}
	for k, v := range cfg.Variables {
		variables[k] = v
	}
	for _, kv := range c.StringSlice("var") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid --var %q, expected KEY=VALUE", kv)
		}
		variables[parts[0]] = parts[1]
	}

	maxRetries := cfg.MaxRetries
	if c.Int("max-retries") >= 0 {
		maxRetries = c.Int("max-retries")
	}

	eng := engine.New(engine.Config{
		Executor:         sim.New(sim.Config{}),
		MaxRetries:       maxRetries,
		RetryDelay:       time.Duration(cfg.RetryDelay * float64(time.Second)),
		Browser:          cfg.BrowserType,
		Headless:         cfg.Headless,
		FindTimeout:      cfg.FindTimeout,
		ErrorLogCapacity: cfg.ErrorLogCapacity,
		DebugLogCapacity: cfg.DebugLogCapacity,
		SampleInterval:   time.Duration(cfg.SampleInterval * float64(time.Second)),
		Variables:        variables,
	})
	eng.SetCallbacks(engine.Callbacks{
		OnStepStart: func(index int, step flow.Step) {
			fmt.Printf("  [%d] %s\n", index, step.Describe())
			if builder != nil {
				builder.StepStarted(index, step)
			}
		},
		OnStepComplete: func(index int, success bool, message string) {
			mark := "ok"
			if !success {
				mark = "FAIL"
			}
			fmt.Printf("  [%d] %s: %s\n", index, mark, message)
			if builder != nil {
				builder.StepCompleted(index, success, message)
			}
		},
		OnFlowComplete: func(success bool) {
			if builder != nil {
				builder.FlowCompleted(success)
			}
		},
	})
	return eng, nil
}

// writeReports renders the run report into dir.
func writeReports(builder *report.Builder, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	r := builder.Build()
	if err := r.WriteJSON(filepath.Join(dir, "report.json")); err != nil {
		return err
	}
	if err := r.WriteHTML(filepath.Join(dir, "report.html")); err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", dir)
	return nil
}

func runFlow(eng *engine.Engine, perf bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, stopping flow...")
		eng.Stop()
		cancel()
	}()

	start := time.Now()
	success, err := eng.Execute(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\nFlow %q finished in %s\n", eng.Name(), time.Since(start).Round(time.Millisecond))
	if perf {
		printPerfReport(eng)
	}
	if !success {
		return fmt.Errorf("flow failed")
	}
	return nil
}

func printPerfReport(eng *engine.Engine) {
	report := eng.Debug().Metrics()
	fmt.Printf("Performance: total=%s steps=%d avgRSS=%.1fMB peakRSS=%.1fMB avgCPU=%.1f%%\n",
		report.TotalTime.Round(time.Millisecond), len(report.StepDurations),
		report.AvgRSSMB, report.PeakRSSMB, report.AvgCPUPercent)
}

// wireDebugPrompt resumes a paused run from stdin. Hitting a breakpoint
// pauses the engine; pressing enter continues it.
func wireDebugPrompt(eng *engine.Engine) {
	eng.Debug().SetCallbacks(debug.Callbacks{
		OnBreakpointHit: func(id string, stepIndex int, context map[string]interface{}) {
			fmt.Printf("\nBreakpoint hit at step %d (%v)\n", stepIndex, context["action_id"])
		},
		OnPaused: func(stepIndex int) {
			fmt.Printf("Paused before step %d. Press enter to continue, q to stop.\n", stepIndex)
			go func() {
				var input string
				fmt.Scanln(&input)
				if strings.TrimSpace(input) == "q" {
					eng.Stop()
					return
				}
				eng.Debug().Resume()
			}()
		},
	})
}
