// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configDirFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config-dir",
		Aliases: []string{"c"},
		Usage:   "Path to the configuration directory",
		Value:   ".",
	}
}

// runCommand executes a migration
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the migration described by the script",
		Flags: []cli.Flag{
			configDirFlag(),
			&cli.StringFlag{
				Name:    "script",
				Aliases: []string{"s"},
				Usage:   "Script file, overriding the config's script_file",
			},
			&cli.BoolFlag{
				Name:  "simulate",
				Usage: "Plan everything but write CSV files instead of executing CRUD",
			},
			&cli.BoolFlag{
				Name:  "force-bulk",
				Usage: "Use the bulk engine regardless of record counts",
			},
			&cli.BoolFlag{
				Name:  "force-rest",
				Usage: "Use per-record REST calls regardless of record counts",
			},
			&cli.StringFlag{
				Name:  "report-dir",
				Usage: "Directory for result and simulation CSV files",
			},
			&cli.IntFlag{
				Name:  "seed",
				Usage: "Seed for the masking value generator",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show the interactive run monitor",
			},
		},
		Action: r.Run,
	}
}

// validateCommand checks the script without touching any store
func validateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"check"},
		Usage:   "Validate the configuration and migration script",
		Flags: []cli.Flag{
			configDirFlag(),
			&cli.StringFlag{
				Name:    "script",
				Aliases: []string{"s"},
				Usage:   "Script file, overriding the config's script_file",
			},
		},
		Action: r.Validate,
	}
}

// setupCommand initializes a config directory
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create starter config and script files and the run journal",
		Flags: []cli.Flag{
			configDirFlag(),
		},
		Action: r.Setup,
	}
}

// historyCommand lists past runs
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List past migration runs from the journal",
		Flags: []cli.Flag{
			configDirFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to list",
				Value: 20,
			},
		},
		Action: r.History,
	}
}

// exampleScript is written by setup as a starting point.
const exampleScript = `# Migration script: one [[objects]] block per migrated entity.

polling_interval_ms = 5000
bulk_api_threshold = 200
bulk_api_version = "2.0"
query_max_chars = 3900

[[objects]]
query = "SELECT Id, Name FROM Account"
operation = "Upsert"
external_id = "Name"

[[objects]]
query = "SELECT Id, LastName, AccountId FROM Contact"
operation = "Upsert"
external_id = "LastName"
`
