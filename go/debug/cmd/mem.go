package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const dumpWidth = 16

// hexDump formats mem as address, hex bytes and printable characters, 16 bytes a line.
func hexDump(base uint32, mem []byte) []string {
	var out []string
	for i := 0; i < len(mem); i += dumpWidth {
		line := mem[i:]
		if len(line) > dumpWidth {
			line = line[:dumpWidth]
		}
		text := make([]byte, len(line))
		for j, b := range line {
			if b >= 0x20 && b <= 0x7e {
				text[j] = b
			} else {
				text[j] = '.'
			}
		}
		words := make([]string, 0, dumpWidth)
		for j := 0; j < dumpWidth; j++ {
			if j < len(line) {
				words = append(words, hex.EncodeToString(line[j:j+1]))
			} else {
				words = append(words, "  ")
			}
		}
		out = append(out, fmt.Sprintf("0x%08x: %s [%s]", base+uint32(i), strings.Join(words, " "), text))
	}
	return out
}

var MemCmd = cmd(&Command{
	Name: "mem",
	Desc: "Dump guest memory at a linear address.",
	Run: func(c *Context, addr, size uint32) error {
		mem, err := c.M.ReadMem(addr, int(size))
		if err != nil {
			return err
		}
		for _, line := range hexDump(addr, mem) {
			c.Printf("  %s\n", line)
		}
		return nil
	},
})
