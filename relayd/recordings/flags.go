package recordings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/go-appsec/relay/relayd/cli"
	"github.com/go-appsec/relay/relayd/config"
)

// Parse dispatches the recordings subcommands.
func Parse(args []string) error {
	if len(args) < 1 {
		printUsage()
		return errors.New("subcommand required")
	}

	switch args[0] {
	case "list":
		return parseList(args[1:])
	case "bind":
		return parseBind(args[1:])
	case "unbind":
		return parseUnbind(args[1:])
	case "delete":
		return parseDelete(args[1:])
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		return cli.UnknownSubcommandError("recordings", args[0], []string{"list", "bind", "unbind", "delete", "help"})
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: relayd recordings <command> [options]

Manage saved recordings on a running relayd service.

Commands:
  list     List recordings and their key bindings
  bind     Bind a client key to a recording
  unbind   Remove a key's binding
  delete   Delete a recording (cascades bindings)

Use "relayd recordings <command> --help" for more information.
`)
}

// serverFlags adds the shared connection flags to a flag set.
func serverFlags(fs *pflag.FlagSet) (*string, *time.Duration) {
	server := fs.String("server", fmt.Sprintf("http://127.0.0.1:%d", config.DefaultPort), "relayd base URL")
	timeout := fs.Duration("timeout", 30*time.Second, "client-side timeout")
	return server, timeout
}

func parseList(args []string) error {
	fs := pflag.NewFlagSet("recordings list", pflag.ContinueOnError)
	server, timeout := serverFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	return list(context.Background(), NewClient(*server, *timeout))
}

func parseBind(args []string) error {
	fs := pflag.NewFlagSet("recordings bind", pflag.ContinueOnError)
	server, timeout := serverFlags(fs)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: relayd recordings bind <recording-id> <key> [options]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("bind requires <recording-id> and <key>")
	}

	client := NewClient(*server, *timeout)
	if err := client.Bind(context.Background(), fs.Arg(0), fs.Arg(1)); err != nil {
		return err
	}
	fmt.Printf("Bound key %s to recording %s\n", fs.Arg(1), fs.Arg(0))
	return nil
}

func parseUnbind(args []string) error {
	fs := pflag.NewFlagSet("recordings unbind", pflag.ContinueOnError)
	server, timeout := serverFlags(fs)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: relayd recordings unbind <recording-id> <key> [options]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("unbind requires <recording-id> and <key>")
	}

	client := NewClient(*server, *timeout)
	if err := client.Unbind(context.Background(), fs.Arg(0), fs.Arg(1)); err != nil {
		return err
	}
	fmt.Printf("Unbound key %s from recording %s\n", fs.Arg(1), fs.Arg(0))
	return nil
}

func parseDelete(args []string) error {
	fs := pflag.NewFlagSet("recordings delete", pflag.ContinueOnError)
	server, timeout := serverFlags(fs)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: relayd recordings delete <recording-id> [options]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("delete requires <recording-id>")
	}

	client := NewClient(*server, *timeout)
	if err := client.Delete(context.Background(), fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("Deleted recording %s\n", fs.Arg(0))
	return nil
}
