package run

import (
	"os"

	"github.com/lunixbochs/vmsched/go/cmd"
)

func Main(args []string) {
	os.Exit(cmd.NewRunCmd().Run(args))
}

func init() { cmd.Register("run", "boot a 32-bit image under the scheduler", Main) }
