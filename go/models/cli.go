package models

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// PrintFlags prints flags as an aligned, wrapped option table.
func PrintFlags(w io.Writer, flags []*flag.Flag) {
	wname, wdef := 0, 0
	for _, f := range flags {
		if len(f.Name) > wname {
			wname = len(f.Name)
		}
		if len(f.DefValue) > wdef {
			wdef = len(f.DefValue)
		}
	}
	wdesc := 80 - wname - wdef - 7
	if wdesc < 20 {
		wdesc = 20
	}
	lpad := strings.Repeat(" ", wname+wdef+7)
	for _, f := range flags {
		def := ""
		if f.DefValue != "" && f.DefValue != "[]" {
			def = "(" + f.DefValue + ")"
		}
		fmt.Fprintf(w, "  -%-*s %-*s ", wname, f.Name, wdef+2, def)
		for i, line := range wrap(f.Usage, wdesc) {
			if i > 0 {
				fmt.Fprint(w, lpad)
			}
			fmt.Fprintln(w, line)
		}
	}
}

// wrap splits s on spaces into lines of at most width bytes, breaking long words.
func wrap(s string, width int) []string {
	var lines []string
	for {
		s = strings.TrimLeft(s, " \n")
		if len(s) <= width {
			break
		}
		cut := strings.LastIndexAny(s[:width+1], " \n")
		if cut <= 0 {
			lines = append(lines, s[:width])
			s = s[width:]
			continue
		}
		lines = append(lines, s[:cut])
		s = s[cut+1:]
	}
	return append(lines, s)
}
