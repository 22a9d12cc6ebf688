package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/skysync/internal/buildinfo"
	"github.com/dmitrijs2005/skysync/internal/cli"
	"github.com/dmitrijs2005/skysync/internal/config"
	"github.com/dmitrijs2005/skysync/internal/flagx"
)

// configFlags is every flag the config layer owns; everything else on the
// command line is a verb or its arguments.
var configFlags = []string{"-a", "-b", "-r", "-w", "-s", "-d", "-c", "-config"}

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}
	defer app.Close()

	if err := app.Run(ctx, flagx.PositionalArgs(os.Args[1:], configFlags)); err != nil {
		log.Fatalf("%v", err)
	}
}
