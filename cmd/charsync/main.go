package main

import (
	"charsync/internal/di"
	"charsync/internal/structures"
	"flag"
	"fmt"
	"os"
)

func main() {
	flags := &structures.CliFlags{}
	flag.StringVar(&flags.ConfigPath, "config", "config.yaml", "path to the yaml config file")
	flag.BoolVar(&flags.DebugMode, "debug", false, "log to the console as well")
	flag.Parse()

	_, cleanup, err := di.InitApp(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cleanup()
}
