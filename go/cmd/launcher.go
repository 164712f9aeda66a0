package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

type command struct {
	name, desc string
	main       func(args []string)
}

var commands = make(map[string]*command)

// Register adds a subcommand. main gets "prog name" as args[0] followed by the remaining words.
func Register(name, desc string, main func(args []string)) {
	if _, ok := commands[name]; ok {
		panic("duplicate command " + name)
	}
	commands[name] = &command{name, desc, main}
}

func usage(w io.Writer, prog string) {
	names := make([]string, 0, len(commands))
	pad := 0
	for name := range commands {
		names = append(names, name)
		if len(name) > pad {
			pad = len(name)
		}
	}
	sort.Strings(names)
	fmt.Fprintln(w, "Commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-*s  %s\n", pad, name, commands[name].desc)
	}
	fmt.Fprintf(w, "\nExample: %s run -listen 6000 kernel.elf\n\n", prog)
}

// dispatch picks the subcommand named by argv[1]. It reports false when there is none.
func dispatch(argv []string, stderr io.Writer) bool {
	if len(argv) < 2 {
		usage(stderr, argv[0])
		return false
	}
	cmd, ok := commands[argv[1]]
	if !ok {
		fmt.Fprintf(stderr, "Command '%s' not found.\n\n", argv[1])
		usage(stderr, argv[0])
		return false
	}
	cmd.main(append([]string{strings.Join(argv[:2], " ")}, argv[2:]...))
	return true
}

func Main() {
	if !dispatch(os.Args, os.Stderr) {
		os.Exit(1)
	}
}
