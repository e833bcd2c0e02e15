/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/halcyon/engine"
	"github.com/spaghettifunk/halcyon/engine/config"
	"github.com/spaghettifunk/halcyon/testbed"

	// Register the rendering backends.
	_ "github.com/spaghettifunk/halcyon/engine/renderer/soft"
	_ "github.com/spaghettifunk/halcyon/engine/renderer/vulkan"
)

func main() {
	configPath := "halcyon.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	app, err := engine.New(cfg, testbed.New())
	if err != nil {
		panic(err)
	}

	if err := app.Initialize(); err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		<-sigCh
		app.RequestClose()
	}()

	runErr := app.Run()
	if err := app.Shutdown(); err != nil {
		panic(err)
	}
	if runErr != nil {
		panic(runErr)
	}
}
