package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/habedi/cloudauth/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// exitInterrupted follows the shell convention of 128 + SIGINT.
const exitInterrupted = 130

// main is the entry point of the application.
// It sets up logging based on the DEBUG_CLOUDAUTH environment variable,
// cancels the command context on the first interrupt and executes the main command.
func main() {
	configureLogLevelFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	stopChan := setupInterruptListener()
	go handleInterrupt(stopChan, cancel, func(msg string) { log.Warn().Msg(msg) })

	code := cmd.Execute(ctx)
	os.Exit(exitStatus(ctx, code))
}

// configureLogLevelFromEnv enables debug logging to stderr when DEBUG_CLOUDAUTH is set to
// anything other than "", "0" or "false", and disables logging otherwise.
func configureLogLevelFromEnv() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG_CLOUDAUTH"))) {
	case "", "0", "false":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func setupInterruptListener() chan os.Signal {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	return stopChan
}

// handleInterrupt cancels the command on the first signal. The process then exits once a token
// refresh already sent upstream has been saved. Signal handling is reset afterwards, so a second
// signal terminates immediately.
func handleInterrupt(stopChan chan os.Signal, cancel context.CancelFunc, logMsg func(string)) {
	sig := <-stopChan
	logMsg("Received " + sig.String() + ", stopping after in-flight work is saved; repeat to quit now")
	signal.Stop(stopChan)
	cancel()
}

// exitStatus reports exitInterrupted for a run cut short by a signal.
func exitStatus(ctx context.Context, code int) int {
	if ctx.Err() != nil {
		return exitInterrupted
	}
	return code
}
