// Command xivectl is a small demonstration harness for the xive
// controller: it loads a JSON deck describing IVEs/EQs/VPs, wires up
// a Controller backed by an in-memory guest-memory buffer, and lets
// you poke at it from the command line. It exists to exercise the
// library, not as a production tool.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{})

	cmdr := subcommands.NewCommander(flag.CommandLine, "xivectl")
	cmdr.Register(cmdr.HelpCommand(), "")
	cmdr.Register(cmdr.FlagsCommand(), "")
	cmdr.Register(cmdr.CommandsCommand(), "")
	cmdr.Register(&dumpCommand{}, "")
	cmdr.Register(&triggerCommand{}, "")
	cmdr.Register(&mmioCommand{}, "")

	flag.Parse()
	os.Exit(int(cmdr.Execute(context.Background())))
}
