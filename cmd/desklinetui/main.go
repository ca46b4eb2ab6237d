package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/deskline/internal/cli"
	"github.com/matheus3301/deskline/internal/tui"
	"github.com/matheus3301/deskline/internal/tui/viewmodel"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var flags cli.Flags
	flags.Register(pflag.CommandLine)
	pflag.Parse()

	env, err := cli.Load(flags, "desklinetui")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	id := env.State.Identity()
	if id.Empty() {
		env.Close()
		fmt.Fprintln(os.Stderr, "error: "+cli.ErrSignedOut.Error())
		os.Exit(1)
	}

	// A missing or unreachable service still opens the UI with empty views.
	var backend viewmodel.Backend
	if c, err := env.Client(); err == nil {
		backend = c
	} else {
		env.Logger.Warn("starting without data service", zap.Error(err))
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	vm, err := viewmodel.NewViewModel(backend, viewmodel.Options{
		Identity:    id,
		Drafts:      env.State,
		Session:     env.Session,
		CustomerTTL: env.Config.Cache.CustomerTTL.Duration,
		Typing:      env.TypingOptions(),
		Logger:      env.Logger,
	})
	if err != nil {
		env.Close()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	label := fmt.Sprintf("%s (%s) %s", id.Name, id.ActorKind, env.Profile)
	runErr := tui.NewApp(vm, label).Run()
	env.Close()
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
