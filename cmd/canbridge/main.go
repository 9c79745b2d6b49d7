package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roffe/canbridge/cmd/canbridge/cmd"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("canbridge")

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // Setup interupt handler for ctrl-c
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-quitChan
		log.Infof("got %v, exiting", s)
		cancel()
		// Failsafe if there is deadlocks
		<-time.After(15 * time.Second)
		log.Fatal("took to long to shutdown, forcefully exiting")
	}()
	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
