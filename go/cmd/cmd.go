package cmd

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/lunixbochs/vmsched/go/debug"
	"github.com/lunixbochs/vmsched/go/models"
)

type RunCmd struct {
	Config *models.Config
	Flags  *flag.FlagSet
}

func NewRunCmd() *RunCmd {
	return &RunCmd{
		Config: models.DefaultConfig(),
		Flags:  flag.NewFlagSet("run", flag.ExitOnError),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func PrintError(err error) {
	// print an error, and a stacktrace if available
	fmt.Fprintf(os.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	if fatal, ok := errors.Cause(err).(*models.FatalError); ok && fatal.Dump != "" {
		fmt.Fprint(os.Stderr, fatal.Dump)
	}
	if err, ok := err.(stackTracer); ok {
		// parse full path and method name for each stack frame
		var frames [][]string
		for _, f := range err.StackTrace() {
			fullpath := ""
			fileline := fmt.Sprintf("%s:%d", f, f)
			method := fmt.Sprintf("%n", f)

			frame := fmt.Sprintf("%+s", f)
			tmp := strings.SplitN(frame, "\n", 3)
			if len(tmp) == 2 {
				pathsplit := strings.Split(tmp[0], "/")
				method = pathsplit[len(pathsplit)-1]
				fullpath = strings.TrimSpace(tmp[1])
			}
			frames = append(frames, []string{fullpath, fileline, method})
			if method == "main.main" {
				break
			}
		}
		// calculate column widths
		widths := make([]int, 2)
		for _, f := range frames {
			for i, s := range f[:2] {
				if len(s) > widths[i] {
					widths[i] = len(s)
				}
			}
		}
		// print pretty stacktrace
		for _, f := range frames {
			method := f[2]
			for i := 0; i < 2; i++ {
				if widths[i] > 0 {
					pad := strings.Repeat(" ", widths[i]-len(f[i]))
					fmt.Fprintf(os.Stderr, "%s%s | ", f[i], pad)
				}
			}
			fmt.Fprintf(os.Stderr, "%s()\n", method)
		}
	}
}

func (c *RunCmd) Run(argv []string) int {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	fs := c.Flags
	cfg := c.Config

	configPath := fs.String("config", "", "config file (default: vmsched.toml in the user config folder)")

	fs.BoolVar(&cfg.HwAccel, "hwaccel", cfg.HwAccel, "allow hardware assisted execution")
	fs.BoolVar(&cfg.RawR0, "raw-r0", cfg.RawR0, "allow raw execution of ring 0 code")
	fs.BoolVar(&cfg.RawR3, "raw-r3", cfg.RawR3, "allow raw execution of ring 3 code")
	fs.BoolVar(&cfg.CpuidPAE, "cpuid-pae", cfg.CpuidPAE, "report PAE in guest cpuid")
	fs.BoolVar(&cfg.CpuidMonitor, "cpuid-monitor", cfg.CpuidMonitor, "report MONITOR/MWAIT in guest cpuid")
	fs.DurationVar(&cfg.HaltTimeout, "halt-timeout", cfg.HaltTimeout, "longest a halted cpu sleeps between forced action checks")
	fs.Uint64Var(&cfg.BurstLimit, "burst", cfg.BurstLimit, "instructions per software engine burst (0: unlimited)")
	// used for Usage grouping
	snames := []string{"hwaccel", "raw-r0", "raw-r3", "cpuid-pae", "cpuid-monitor", "halt-timeout", "burst"}

	fs.Uint64Var(&cfg.LoadAddr, "base", cfg.LoadAddr, "physical load address for flat images")
	fs.Uint64Var(&cfg.Entry, "entry", cfg.Entry, "entry point for flat images (default: load address)")
	fs.Uint64Var(&cfg.MemSize, "mem", cfg.MemSize, "guest memory size in bytes")
	fs.DurationVar(&cfg.TickPeriod, "tick", cfg.TickPeriod, "raise the tick interrupt every <duration> of virtual time (0: off)")
	fs.Func("tick-vector", "interrupt vector raised by the tick (default 0x20)", func(s string) error {
		n, err := strconv.ParseUint(s, 0, 8)
		cfg.TickVector = uint8(n)
		return err
	})

	fs.StringVar(&cfg.LogLevel, "log", cfg.LogLevel, "log level (trace, debug, info, warn, error)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose output (same as -log debug)")
	fs.BoolVar(&cfg.Color, "color", cfg.Color, "color register dumps")

	fs.StringVar(&cfg.SaveState, "save", cfg.SaveState, "save scheduler state to file after the run")
	fs.StringVar(&cfg.LoadState, "load", cfg.LoadState, "load scheduler state from file before the run")
	fs.IntVar(&cfg.Listen, "listen", cfg.Listen, "listen for debug connection on localhost:<port>")
	connect := fs.Int("connect", -1, "connect to remote vmsched debugger on localhost:<port>")

	cpuprofile := fs.String("cpuprofile", "", "write cpu profile to <file>")
	memprofile := fs.String("memprofile", "", "write mem profile to <file>")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <image>\n\nOptions:\n", argv[0])
		var flags []*flag.Flag
		var sflags []*flag.Flag
		fs.VisitAll(func(f *flag.Flag) {
			for _, name := range snames {
				if name == f.Name {
					sflags = append(sflags, f)
					return
				}
			}
			flags = append(flags, f)
		})
		models.PrintFlags(os.Stderr, flags)
		fmt.Fprintf(os.Stderr, "\nScheduler Options:\n")
		models.PrintFlags(os.Stderr, sflags)
		fmt.Fprintf(os.Stderr, "\nDebug Client:\n  %s -connect <port>\n", argv[0])
		fmt.Fprintf(os.Stderr, "\nExample:\n  %s -tick 10ms -listen 6000 kernel.elf\n", argv[0])
	}
	// the second parse lets flags override the config file
	fs.Parse(argv[1:])
	if _, err := LoadConfig(cfg, *configPath); err != nil {
		PrintError(err)
		return 1
	}
	fs.Parse(argv[1:])

	// connect to debug server (skips everything else)
	if *connect > 0 {
		addr := net.JoinHostPort("localhost", strconv.Itoa(*connect))
		if err := debug.RunClient(addr); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	args := fs.Args()
	if len(args) == 1 {
		cfg.Image = args[0]
	}
	if cfg.Image == "" || len(args) > 1 {
		fs.Usage()
		return 1
	}
	if cfg.Entry == 0 {
		cfg.Entry = cfg.LoadAddr
	}
	if err := cfg.Validate(); err != nil {
		PrintError(err)
		return 1
	}

	log, err := models.NewLogger(cfg, os.Stderr)
	if err != nil {
		PrintError(err)
		return 1
	}
	host, err := models.ProbeHost()
	if err != nil {
		PrintError(err)
		return 1
	}
	log.Debug().Stringer("host", host.Uname).Bool("kvm", host.KVM).Msg("host")
	if cfg.HwAccel {
		if !host.KVM {
			PrintError(errors.New("-hwaccel needs a usable /dev/kvm"))
			return 1
		}
		log.Warn().Msg("no hardware engine in this build, the policy will fall back to the software engine")
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			PrintError(errors.Wrap(err, "cpu profile"))
			return 1
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}
	if *memprofile != "" {
		defer func() {
			f, err := os.Create(*memprofile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not write heap profile: %s\n", err)
				return
			}
			pprof.WriteHeapProfile(f)
			f.Close()
		}()
	}

	m, err := NewMachine(cfg, log, os.Stdout)
	if err != nil {
		PrintError(err)
		return 1
	}
	defer m.Close()
	if cfg.LoadState != "" {
		if err := m.LoadState(cfg.LoadState); err != nil {
			PrintError(err)
			return 1
		}
	}

	var ln net.Listener
	if cfg.Listen >= 0 {
		if ln, err = debug.Listen(cfg.Listen); err != nil {
			PrintError(err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rc, err := m.Run(ctx, ln)
	log.Info().Stringer("rc", rc).Msg("vcpu stopped")
	if err != nil {
		PrintError(err)
		return int(models.ExitFor(rc))
	}
	if cfg.SaveState != "" {
		if err := m.SaveState(cfg.SaveState); err != nil {
			PrintError(err)
			return 1
		}
	}
	return m.ExitCode(rc)
}
