package models

import (
	"strings"
	"testing"

	"github.com/lunixbochs/vmsched/go/models/cpu"
)

func TestStatusDiff(t *testing.T) {
	var ctx cpu.Context
	ctx.Reset(0x1000, 0x8000)
	var sd StatusDiff
	if all := sd.Changes(&ctx, false); len(all) != len(ctx.RegDump()) {
		t.Fatalf("first snapshot should list every register, got %d", len(all))
	}
	ctx.EAX = 0x1234
	ctx.EIP += 2
	changed := sd.Changes(&ctx, true)
	if len(changed) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changed))
	}
	if changed[0].Name != "eax" || changed[0].Old != 0 || changed[0].New != 0x1234 {
		t.Fatalf("bad eax change %+v", changed[0])
	}
	if s := changed[0].String(false); !strings.HasPrefix(s, "+") || !strings.HasSuffix(s, "0x00001234") {
		t.Fatalf("bad plain render %q", s)
	}
	if len(sd.Changes(&ctx, true)) != 0 {
		t.Fatal("no changes expected after a repeat snapshot")
	}
}

func TestStatusDump(t *testing.T) {
	var ctx cpu.Context
	ctx.Reset(0x1000, 0x8000)
	dump := (&StatusDiff{}).Dump(&ctx)
	for _, want := range []string{"eip 0x00001000", "esp 0x00008000", "cs 0008"} {
		if !strings.Contains(dump, want) {
			t.Fatalf("dump missing %q:\n%s", want, dump)
		}
	}
}
