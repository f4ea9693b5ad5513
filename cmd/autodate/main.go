package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./autodate.yaml", "path to config (json or yaml)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, app.Usage) }
	flag.Parse()

	cmd, args := flag.Arg(0), flag.Args()
	if len(args) > 0 {
		args = args[1:]
	}
	switch cmd {
	case "", "help", "-h", "--help":
		fmt.Fprint(os.Stderr, app.Usage)
		if cmd == "" {
			os.Exit(2)
		}
		return
	}

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if cmd == "watch" {
		os.Exit(watch(a))
	}

	err = a.Exec(context.Background(), cmd, args)
	_ = a.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "autodate:", err)
		if errors.Is(err, app.ErrUsage) {
			fmt.Fprint(os.Stderr, "\n", app.Usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func watch(a *app.App) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		return 1
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	return 0
}
