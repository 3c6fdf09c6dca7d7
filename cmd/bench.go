package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"
)

var CPUProfileFlag = &cli.BoolFlag{
	Name:  "cpuprofile",
	Usage: "write a CPU profile of the benchmarked run to ./cpu.pprof",
}

// Bench implements `r5vm bench <image>`, timing each requested engine the
// way original_source/src/main.c times r5vm_run with hires_time.h, using
// time.Now/time.Since instead of the C wrapper, and logging instructions
// per second the way rvgo/cmd/run.go logs "ips".
func Bench(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return fmt.Errorf("cmd: usage: r5vm bench <image> [flags]")
	}
	engine := ctx.String(EngineFlag.Name)
	l := Logger(os.Stderr, log.LevelInfo)

	if ctx.Bool(CPUProfileFlag.Name) {
		defer profile.Start(profile.NoShutdownHook, profile.ProfilePath("."), profile.CPUProfile).Stop()
	}

	if engine == "interpreter" || engine == "both" || engine == "" {
		s, err := loadImage(ctx, path)
		if err != nil {
			return err
		}
		start := time.Now()
		runInterpreter(s, 0)
		elapsed := time.Since(start)
		ips := float64(s.Step) / elapsed.Seconds()
		l.Info("interpreter benchmark", "steps", s.Step, "elapsed", elapsed, "ips", ips)
	}

	if engine == "jit" || engine == "both" || engine == "" {
		s, err := loadImage(ctx, path)
		if err != nil {
			return err
		}
		start := time.Now()
		if err := runJIT(s, "", l); err != nil {
			return err
		}
		elapsed := time.Since(start)
		l.Info("jit benchmark", "elapsed", elapsed)
	}

	return nil
}

var BenchCommand = &cli.Command{
	Name:      "bench",
	Usage:     "Time interpreter and/or JIT execution of a .r5m image",
	ArgsUsage: "<image.r5m>",
	Action:    Bench,
	Flags: []cli.Flag{
		EngineFlag,
		MemFlag,
		CPUProfileFlag,
	},
}
