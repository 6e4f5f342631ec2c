package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/sde1000/pppoe-serial-bridge/internal/ac"
	"github.com/sde1000/pppoe-serial-bridge/internal/serialdial"
)

var (
	acName     = pflag.String("ac-name", "pppoe-serial-bridge", "Access-Concentrator-Name advertised in PADO")
	chatScript = pflag.String("chatscript", "", "chat(8) script to run against the modem before forwarding")
)

func main() {
	pflag.Parse()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if pflag.NArg() != 3 {
		log.Fatal().Msg("usage: pppoe-serial-bridge [flags] <serial-device> <service-name> <interface>")
	}
	device := pflag.Arg(0)
	serviceName := pflag.Arg(1)
	ifName := pflag.Arg(2)

	svc := serialdial.New(&log, serviceName, device, *chatScript)

	concentrator, err := ac.New(&log, ifName, *acName, []ac.Service{svc})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start access concentrator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	log.Info().Str("interface", ifName).Str("service", serviceName).
		Str("device", device).Msg("bridge running")

	if err := concentrator.Run(ctx); err != nil {
		log.Error().Err(err).Msg("event loop exited with error")
	}
	if err := concentrator.Close(); err != nil {
		log.Error().Err(err).Msg("error closing sockets")
	}
}
