// Package main is the entrypoint for jsonrpc2d, a JSON-RPC 2.0 server over newline-delimited TCP and COMMS.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/alecthomas/kong"

	"github.com/morezero/jsonrpc2/internal/server"
	"github.com/morezero/jsonrpc2/pkg/demo"
)

var (
	// Version information, set with -ldflags at build time.
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// runEnv is bound into every command's Run method.
type runEnv struct {
	Ctx     context.Context
	Out     io.Writer
	Install server.InstallFunc
}

// CLI is the command line of jsonrpc2d. Configuration comes from the environment; see internal/config.
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Start the JSON-RPC server (TCP, COMMS, HTTP health)"`
	Worker  WorkerCmd  `cmd:"" hidden:"" help:"Run one Process lane call on stdin/stdout"`
	Migrate MigrateCmd `cmd:"" help:"Manage the failure journal schema"`
	Journal JournalCmd `cmd:"" help:"Inspect the failure journal"`
	Methods MethodsCmd `cmd:"" help:"List the registered methods as JSON"`
}

func newParser(cli *CLI, extra ...kong.Option) (*kong.Kong, error) {
	opts := []kong.Option{
		kong.Name("jsonrpc2d"),
		kong.Description("JSON-RPC 2.0 server with inline, thread and process execution lanes.\n\nEnvironment: LISTEN_ADDR, COMMS_URL, DATABASE_URL, MIGRATION_PATH, PROCESS_MODE, LOG_LEVEL. See README."),
		kong.Vars{
			"version": fmt.Sprintf("%s (%s, built %s)", appVersion, appCommit, appDate),
		},
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	}
	return kong.New(cli, append(opts, extra...)...)
}

func main() {
	cli := &CLI{}
	parser, err := newParser(cli)
	if err != nil {
		log.Fatalf("jsonrpc2d: %v", err)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	env := &runEnv{Ctx: context.Background(), Out: os.Stdout, Install: demo.Install}
	if err := kctx.Run(env); err != nil {
		log.Fatalf("jsonrpc2d %s: %v", kctx.Command(), err)
	}
}
