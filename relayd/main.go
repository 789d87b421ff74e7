package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/go-appsec/relay/relayd/cli"
	"github.com/go-appsec/relay/relayd/config"
	"github.com/go-appsec/relay/relayd/recordings"
	"github.com/go-appsec/relay/relayd/service"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printRootUsage()
		return 1
	}

	var err error
	switch args[0] {
	case "serve":
		err = runServe(args[1:])
	case "recordings":
		err = recordings.Parse(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("relayd version %s-%s\n", config.Version, config.RevNum)
		return 0
	case "help", "--help", "-h":
		printRootUsage()
		return 0
	default:
		err = cli.UnknownCommandError(args[0], []string{"serve", "recordings", "version", "help"})
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runServe(args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	port := fs.Int("port", 0, "listen port (default: config value)")
	configPath := fs.String("config", "", "config file path (default: ~/.relayd/config.json)")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage: relayd serve [options]

Run the relay service.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	srv := service.NewServer(service.ServerFlags{
		Port:       *port,
		ConfigPath: *configPath,
	})
	return srv.Run(context.Background())
}

func printRootUsage() {
	fmt.Fprint(os.Stderr, `Usage: relayd <command> [options]

Commands:
  serve       Run the relay service
  recordings  Manage saved recordings on a running service
  version     Print version

Use "relayd <command> --help" for specific command usage.
`)
}
