// Command roadied runs the roadie supervision daemon in the foreground.
//
// This is the entry point a process manager such as systemd starts
// (Type=notify). Interactive sessions normally go through "roadie daemon
// start" instead, which spawns the same runtime detached.
package main

import (
	"context"
	"flag"
	"log"

	"roadie/internal/config"
	"roadie/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level")
	socketPath := flag.String("socket", "", "override the IPC socket path")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	opts := daemonrun.Options{LogLevel: *logLevel, SocketPath: *socketPath}
	if err := daemonrun.Run(context.Background(), cfg, opts); err != nil {
		log.Fatalf("roadied: %v", err)
	}
}
