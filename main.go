/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/testbed"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration")
	frames := flag.Uint64("frames", 0, "exit after this many frames (0 runs until closed)")
	flag.Parse()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		if cfg, err = config.Load(*configPath); err != nil {
			core.LogFatal(err.Error())
		}
	} else {
		core.LogWarn("no configuration at %s, using defaults", *configPath)
	}

	tb := testbed.NewTestGame()

	engine, err := engine.New(cfg, tb.Game)
	if err != nil {
		panic(err)
	}

	if err := engine.Initialize(); err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		_ = engine.Shutdown()
	}()

	// run engine
	if err := engine.WithFrameLimit(*frames).Run(); err != nil {
		panic(err)
	}
}
