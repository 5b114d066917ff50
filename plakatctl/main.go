// Package plakatctl is the command line client of a plakat server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"wuyrush.io/plakat/common/logging"
	cst "wuyrush.io/plakat/constants"
)

func init() {
	viper.SetDefault(cst.EnvServerURL, "http://localhost:8080")
}

const usage = `usage: plakatctl <command> [flags]

commands:
  list                       list all pins, newest first
  add -title T -lat N -lon N [-expires YYYY-MM-DD] [-description D]
                             create a pin
  rm <id>                    delete a pin
  unlock                     enter the passphrase and remember it
  watch                      follow the pins live

environment:
  PLAKAT_SERVER_URL          server address (default http://localhost:8080)
  PLAKAT_PASSPHRASE          passphrase, instead of the remembered one
`

func main() {
	viper.AutomaticEnv()
	logging.SetupLogTo(os.Stderr, "PlakatCtl", viper.GetBool(cst.EnvVerbose))
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	a := newApp(os.Stdout)
	if err := a.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}
