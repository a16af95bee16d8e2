package main

import (
	"os"

	"github.com/alecthomas/kong"
	_ "go.uber.org/automaxprocs"
)

// Globals are flags shared by every command.
type Globals struct {
	Config string `help:"Path to an optional YAML config file; environment variables take precedence." type:"path" env:"CONFIG_FILE"`
}

// CLI is the movie-reviews command tree.
type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the HTTP API."`
	Migrate MigrateCmd `cmd:"" help:"Apply or roll back database migrations."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("movie-reviews"),
		kong.Description("Movie lookup and review service backed by PostgreSQL and OMDb."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		// Loggers are built from config, which may be what failed.
		_, _ = os.Stderr.WriteString("movie-reviews: " + err.Error() + "\n")
		os.Exit(1)
	}
}
