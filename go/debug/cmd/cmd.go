package cmd

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/lunixbochs/argjoy"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
)

type Command struct {
	Name string
	Desc string
	Run  interface{}
}

var Commands = make(map[string]*Command)

// ErrQuit ends the console session that ran it.
var ErrQuit = errors.New("quit")

func cmd(c *Command) *Command {
	fn := reflect.ValueOf(c.Run)
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		panic(fmt.Sprintf("Command.Run must be a func: got (%T) %#v\n", c.Run, c.Run))
	}
	Commands[c.Name] = c
	return c
}

var aj = argjoy.NewArgjoy()

func init() {
	aj.Register(numArgCodec)
	aj.Register(argjoy.IntToInt)
}

// numArgCodec turns command words into addresses and sizes. Hex, octal and binary prefixes work.
// vals holds every remaining word; only the first belongs to arg.
func numArgCodec(arg interface{}, vals []interface{}) error {
	if len(vals) == 0 {
		return argjoy.NoMatch
	}
	s, ok := vals[0].(string)
	if !ok {
		return argjoy.NoMatch
	}
	switch v := arg.(type) {
	case *uint32:
		n, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return errors.Wrapf(err, "bad number %q", s)
		}
		*v = uint32(n)
	case *uint64:
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return errors.Wrapf(err, "bad number %q", s)
		}
		*v = n
	case *int:
		n, err := strconv.ParseInt(s, 0, 0)
		if err != nil {
			return errors.Wrapf(err, "bad number %q", s)
		}
		*v = int(n)
	default:
		return argjoy.NoMatch
	}
	return nil
}

func usage(name string, t reflect.Type) string {
	out := name
	for i := 1; i < t.NumIn(); i++ {
		if t.IsVariadic() && i == t.NumIn()-1 {
			out += " [args...]"
		} else {
			out += " <" + t.In(i).Kind().String() + ">"
		}
	}
	return out
}

// Run parses and executes one console line. Only ErrQuit is returned; command failures are
// printed to the console.
func Run(c *Context, line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		c.Printf("parse error: %v\n", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	name, args := args[0], args[1:]
	cmd, ok := Commands[name]
	if !ok {
		c.Printf("command not found.\n")
		return nil
	}
	var out []interface{}
	fnt := reflect.TypeOf(cmd.Run)
	if fnt.IsVariadic() {
		out, err = aj.Call(cmd.Run, c, args)
	} else {
		if len(args) != fnt.NumIn()-1 {
			c.Printf("usage: %s\n", usage(name, fnt))
			return nil
		}
		vals := []interface{}{c}
		for _, a := range args {
			vals = append(vals, a)
		}
		out, err = aj.Call(cmd.Run, vals...)
	}
	if err != nil {
		c.Printf("error: %v\n", err)
	}
	if len(out) > 0 {
		if err, ok := out[0].(error); ok {
			if err == ErrQuit {
				return err
			}
			c.Printf("error: %v\n", err)
		}
	}
	return nil
}

var HelpCmd = cmd(&Command{
	Name: "help",
	Desc: "List commands.",
	Run: func(c *Context) error {
		names := make([]string, 0, len(Commands))
		for name := range Commands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			cmd := Commands[name]
			c.Printf("  %-28s %s\n", usage(name, reflect.TypeOf(cmd.Run)), cmd.Desc)
		}
		return nil
	},
})

var QuitCmd = cmd(&Command{
	Name: "quit",
	Desc: "Close this console. The guest keeps running.",
	Run: func(c *Context) error {
		return ErrQuit
	},
})
