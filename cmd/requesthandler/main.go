/*
This command provides an executable version of the request handler.

For the list of command line options, run:

	requesthandler -help

The options can also be given in a yaml file with -config-file, the keys
being the flag names. Flags on the command line win over the file.
*/
package main

import (
	log "github.com/sirupsen/logrus"

	requesthandler "github.com/contensis/request-handler-localdevelopment-sub000"
	"github.com/contensis/request-handler-localdevelopment-sub000/config"
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	log.SetLevel(cfg.ApplicationLogLevel)
	if err := requesthandler.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
