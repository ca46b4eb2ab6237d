package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/deskline/internal/cli"
	"github.com/spf13/pflag"
)

type command struct {
	name    string
	usage   string
	summary string
	// long commands run until interrupted instead of under the request timeout.
	long bool
	run  func(ctx context.Context, env *cli.Env, args []string) error
}

var commands []command

// Assigned in init because usageError refers back to commands via lookup.
func init() {
	commands = []command{
		{name: "seed", usage: "seed [--org ID] [--name NAME]", summary: "Create an organization with an agent, a customer and a conversation", run: cmdSeed},
		{name: "login", usage: "login --org ID --as agent|customer --id ID [--name NAME]", summary: "Remember who this profile acts as", run: cmdLogin},
		{name: "logout", usage: "logout", summary: "Forget the identity and drafts", run: cmdLogout},
		{name: "whoami", usage: "whoami", summary: "Show the remembered identity", run: cmdWhoami},
		{name: "conversations", usage: "conversations", summary: "List conversations by recent activity", run: cmdConversations},
		{name: "messages", usage: "messages <conversation>", summary: "Print a conversation's messages", run: cmdMessages},
		{name: "send", usage: "send <conversation> <text>", summary: "Send a message as the signed-in actor", run: cmdSend},
		{name: "customer", usage: "customer <id>", summary: "Show customer details (cached)", run: cmdCustomer},
		{name: "status", usage: "status <conversation> open|pending|closed", summary: "Change a conversation's status", run: cmdStatus},
		{name: "watch", usage: "watch <conversation>", summary: "Follow messages and typing presence", long: true, run: cmdWatch},
		{name: "typing", usage: "typing <conversation> <text>", summary: "Announce typing until the idle timeout", long: true, run: cmdTyping},
	}
}

var jsonOut bool

func main() {
	var flags cli.Flags
	fs := pflag.CommandLine
	flags.Register(fs)
	fs.BoolVar(&jsonOut, "json", false, "output in JSON format")
	fs.SetInterspersed(false)
	fs.Usage = printUsage
	pflag.Parse()

	args := fs.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	cmd, ok := lookup(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	env, err := cli.Load(flags, "desklinectl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if !cmd.long {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	err = cmd.run(ctx, env, args[1:])
	stop()
	env.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: desklinectl [--profile <name>] [--url <endpoint>] [--api-key <key>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-58s %s\n", c.usage, c.summary)
	}
}

func usageError(name string) error {
	c, _ := lookup(name)
	return fmt.Errorf("usage: desklinectl %s", c.usage)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
