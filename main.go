package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/janzwiener/r5vm-go/cmd"
)

func main() {
	app := cli.NewApp()
	app.Name = "r5vm"
	app.Usage = "minimal RV32I virtual machine: interpreter + ahead-of-execution x86 JIT"
	app.Description = "Loads .r5m images and runs them with an interpreter, a JIT, or both at once, cross-checking results."
	app.Commands = []*cli.Command{
		cmd.RunCommand,
		cmd.BenchCommand,
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			<-c
			cancel()
			fmt.Println("\r\nExiting...")
		}
	}()

	if err := app.RunContext(ctx, os.Args); err != nil {
		if errors.Is(err, ctx.Err()) {
			fmt.Fprintf(os.Stderr, "command interrupted")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
