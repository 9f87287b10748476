package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/repositories"
	"github.com/desertthunder/dmx/internal/services"
	"github.com/desertthunder/dmx/internal/shared"
	"github.com/desertthunder/dmx/internal/soql"
	"github.com/desertthunder/dmx/internal/tasks"
	"github.com/desertthunder/dmx/internal/ui"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	registry *tasks.Registry
	logger   *log.Logger
	output   io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Registry *tasks.Registry
	Logger   *log.Logger
	Output   io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Registry == nil {
		opts.Registry = tasks.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{registry: opts.Registry, logger: opts.Logger, output: opts.Output}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, validateCommand, runCommand, historyCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

// load reads the config and script for the given config directory.
func (r *Runner) load(cmd *cli.Command) (*shared.Config, *models.Script, error) {
	dir := cmd.String("config-dir")
	config, err := shared.LoadConfig(filepath.Join(dir, "config.toml"))
	if err != nil {
		return nil, nil, err
	}
	scriptFile := cmd.String("script")
	if scriptFile == "" {
		scriptFile = config.ScriptFile
	}
	script, err := shared.LoadScript(dir, scriptFile)
	if err != nil {
		return nil, nil, err
	}
	return config, script, nil
}

// openStores builds both sides and hands file stores the value cipher
// when encryption is on.
func (r *Runner) openStores(config *shared.Config, script *models.Script) (services.Store, services.Store, error) {
	source, err := services.NewStore(config.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("source store: %w", err)
	}
	target, err := services.NewStore(config.Target)
	if err != nil {
		return nil, nil, fmt.Errorf("target store: %w", err)
	}

	if script.EncryptDataFiles {
		cipher, err := shared.NewCipher(script.Passphrase)
		if err != nil {
			return nil, nil, err
		}
		if fs, ok := source.(*services.FileStore); ok {
			fs.Cipher = cipher
		}
		if fs, ok := target.(*services.FileStore); ok {
			fs.Cipher = cipher
		}
	}
	return source, target, nil
}

// openJournal opens the run journal when the config names one. The
// returned closer is nil when journaling is off.
func (r *Runner) openJournal(config *shared.Config) (tasks.Journal, func(), error) {
	if config.Journal.Path == "" {
		return nil, nil, nil
	}
	db, err := shared.NewDatabase(config.Journal.Path)
	if err != nil {
		return nil, nil, err
	}
	shared.ConfigureDatabase(db, config.Journal.MaxOpenConns, config.Journal.MaxIdleConns)
	journal, err := repositories.NewRunJournal(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return journal, func() { db.Close() }, nil
}

// Run executes a migration per the loaded script.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	config, script, err := r.load(cmd)
	if err != nil {
		return err
	}
	if cmd.Bool("simulate") {
		script.Simulation = true
	}

	source, target, err := r.openStores(config, script)
	if err != nil {
		return err
	}
	journal, closeJournal, err := r.openJournal(config)
	if err != nil {
		return err
	}
	if closeJournal != nil {
		defer closeJournal()
	}

	opts := tasks.Options{
		Script:    script,
		Source:    source,
		Target:    target,
		Registry:  r.registry,
		Journal:   journal,
		ReportDir: cmd.String("report-dir"),
		ForceBulk: cmd.Bool("force-bulk"),
		ForceRest: cmd.Bool("force-rest"),
		MockSeed:  uint64(cmd.Int("seed")),
		Logger:    r.logger,
	}

	if cmd.Bool("tui") {
		return r.runWithMonitor(ctx, opts)
	}

	job, err := tasks.NewMigrationJob(opts)
	if err != nil {
		return err
	}
	result, err := job.Run(ctx)
	if err != nil {
		return err
	}
	r.printResult(result)
	return nil
}

// runWithMonitor runs the job behind the terminal monitor.
func (r *Runner) runWithMonitor(ctx context.Context, opts tasks.Options) error {
	updates := make(chan tasks.ProgressUpdate, 64)
	done := make(chan ui.RunOutcome, 1)
	opts.Progress = updates

	job, err := tasks.NewMigrationJob(opts)
	if err != nil {
		return err
	}
	go func() {
		result, runErr := job.Run(ctx)
		done <- ui.RunOutcome{Result: result, Err: runErr}
		close(updates)
	}()

	final, err := tea.NewProgram(ui.NewModel(updates, done)).Run()
	if err != nil {
		return fmt.Errorf("monitor failed: %w", err)
	}
	if model, ok := final.(ui.Model); ok {
		if outcome := model.Outcome(); outcome != nil {
			if outcome.Err != nil {
				return outcome.Err
			}
			r.printResult(outcome.Result)
		}
	}
	return nil
}

// Validate checks the config and script without touching any store.
func (r *Runner) Validate(ctx context.Context, cmd *cli.Command) error {
	config, script, err := r.load(cmd)
	if err != nil {
		return err
	}

	r.writePlainHeader("Migration script")
	r.writePlain("source: %s (%s)\n", config.Source.Name, config.Source.Kind)
	r.writePlain("target: %s (%s)\n", config.Target.Name, config.Target.Kind)
	for _, obj := range script.Objects {
		name := obj.Name
		if name == "" {
			q, err := soql.Parse(obj.Query)
			if err != nil {
				return fmt.Errorf("%w: %v", shared.ErrInvalidScript, err)
			}
			name = q.Object
		}
		r.writePlain("  %-24s %-10s external id: %s\n", name, obj.Op(), obj.ExternalID)
	}
	r.writePlainln("script is valid: %d objects", len(script.Objects))
	return nil
}

// Setup initializes a config directory with starter files and the
// journal database.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.String("config-dir")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrMissingPath, err)
	}

	configPath := filepath.Join(dir, "config.toml")
	if err := shared.CreateConfigFile(configPath); err != nil {
		return err
	}
	r.writePlain("created %s\n", configPath)

	scriptPath := filepath.Join(dir, "script.toml")
	if _, err := os.Stat(scriptPath); os.IsNotExist(err) {
		if err := os.WriteFile(scriptPath, []byte(exampleScript), 0644); err != nil {
			return fmt.Errorf("failed to write script file: %w", err)
		}
		r.writePlain("created %s\n", scriptPath)
	}

	config, err := shared.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if config.Journal.Path != "" {
		_, closeJournal, err := r.openJournal(config)
		if err != nil {
			return err
		}
		closeJournal()
		r.writePlain("initialized journal at %s\n", config.Journal.Path)
	}
	return nil
}

// History lists past runs from the journal.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.String("config-dir")
	config, err := shared.LoadConfig(filepath.Join(dir, "config.toml"))
	if err != nil {
		return err
	}
	journal, closeJournal, err := r.openJournal(config)
	if err != nil {
		return err
	}
	if journal == nil {
		return fmt.Errorf("%w: no journal path configured", shared.ErrMissingConfig)
	}
	defer closeJournal()

	runs, err := journal.(*repositories.RunJournal).ListRuns(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	r.writePlainHeader("Run history")
	for _, run := range runs {
		status := run.Status
		if run.Simulation {
			status += " (simulation)"
		}
		r.writePlain("#%-4d %s → %s  %-22s %s\n", run.ID, run.Source, run.Target, status, run.StartedAt)
		if run.Error != "" {
			r.writePlain("      %s\n", run.Error)
		}
	}
	if len(runs) == 0 {
		r.writePlain("no runs recorded\n")
	}
	return nil
}

func (r *Runner) printResult(result *tasks.RunResult) {
	if result == nil {
		return
	}
	title := "Migration finished"
	if result.Simulation {
		title = "Simulation finished"
	}
	r.writePlainHeader(fmt.Sprintf("%s (%d passes)", title, result.Passes))
	for _, stats := range result.Objects {
		r.writePlain("  %-24s retrieved %-6d inserted %-6d updated %-6d deleted %-6d failed %d\n",
			stats.Object, stats.Retrieved, stats.Inserted, stats.Updated, stats.Deleted, stats.Failed)
	}
	if n := len(result.MissingParents); n > 0 {
		r.writePlain("  %d unresolved parent lookups (see missing_parents.csv)\n", n)
	}
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
