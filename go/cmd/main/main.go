package main

import (
	"github.com/lunixbochs/vmsched/go/cmd"

	_ "github.com/lunixbochs/vmsched/go/cmd/run"
)

func main() { cmd.Main() }
