package cli

import (
	"context"
	"flag"
	"fmt"
)

func newCapabilitiesCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "capabilities",
		Description: "List registered module:action capabilities",
		Flags:       flag.NewFlagSet("capabilities", flag.ContinueOnError),
	}
	capsFile := cmd.Flags.String("file", "", "Capabilities file to validate and include")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *capsFile != "" {
			if err := env.Registry.LoadFile(*capsFile); err != nil {
				return err
			}
		}
		for _, c := range env.Registry.Capabilities() {
			fmt.Fprintln(env.Out, c.String())
		}
		return nil
	}
	return cmd
}
