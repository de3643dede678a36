// Package engine wires the transport core together: the multiplexer's receive
// path, the media sinks with their pacing loops, sample producers and the
// operator surfaces all run as actors in one run group.
package engine

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/oklog/run"
	"github.com/rebeljah/rtpcast/http"
	"github.com/rebeljah/rtpcast/rtp"
	"github.com/sirupsen/logrus"
)

// Config carries engine-level addresses and toggles, typically sourced from
// the environment in main.
type Config struct {
	// StatsAddr is the listen address of the read-only stats HTTP surface.
	StatsAddr string
}

// Run blocks until the engine is interrupted by a signal, a fatal actor error
// or an explicit CLI exit. Sinks are started inside the group so a failed
// stream setup interrupts the whole engine during bring-up.
func Run(cfg Config, mux *rtp.Multiplexer, statsServer *http.Server, cli *CLI, sinks []rtp.Sink, producers []*Producer) {
	var rg run.Group

	// os signal handler to gracefully trigger rungroup interrupt on SIGINT or SIGTERM
	signalTrap := make(chan os.Signal, 1)
	signal.Notify(signalTrap, syscall.SIGINT, syscall.SIGTERM)
	rg.Add(
		func() error {
			if sig, ok := <-signalTrap; ok {
				logrus.Infof("rtpcast engine rungroup interrupt due to: %v", sig)
				return errors.New(sig.String() + " signal")
			}

			return nil
		},
		func(error) {
			signal.Stop(signalTrap)
			close(signalTrap)
		},
	)

	// multiplexer receive path
	rg.Add(mux.Serve, mux.Interrupt)

	// stats HTTP surface
	if statsServer != nil {
		rg.Add(
			func() error {
				return statsServer.ListenAndServe(cfg.StatsAddr)
			},
			statsServer.Interrupt,
		)
	}

	// media sinks: started here, stopped on interrupt
	for _, sink := range sinks {
		done := make(chan struct{})
		var once sync.Once

		rg.Add(
			func() error {
				if err := sink.Start(); err != nil {
					return err
				}
				<-done
				return nil
			},
			func(error) {
				once.Do(func() {
					sink.Stop()
					close(done)
				})
			},
		)
	}

	// sample producers feeding the sinks
	for _, producer := range producers {
		rg.Add(producer.Run, producer.Interrupt)
	}

	// operator CLI
	if cli != nil {
		rg.Add(cli.Run, cli.Interrupt)
	}

	logrus.Info("starting rtpcast engine group")
	err := rg.Run()
	logrus.Infof("rtpcast engine group exited: %v", err)
}
