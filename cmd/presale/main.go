package main

import (
	"os"
	"os/signal"
	"syscall"

	goflags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"gitlab.com/moonship/presale/app"
)

const errWrongCommand = 2

// parse fills config from args and the environment. When ok is false the process
// must exit with code.
func parse(config interface{}, args []string) (code int, ok bool) {
	_, err := goflags.ParseArgs(config, args)
	if err == nil {
		return 0, true
	}
	if err, is := err.(*goflags.Error); is && err.Type == goflags.ErrHelp {
		return 0, false
	}
	log.Printf("Error during flags parsing: %v.", err)
	return errWrongCommand, false
}

func waitForShutdown(f func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	s, ok := <-c
	if !ok {
		return
	}
	log.Printf("Got signal: %v", s)

	f()
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	var config app.Config
	if code, ok := parse(&config, os.Args[1:]); !ok {
		os.Exit(code)
	}

	a := app.New()
	if err := a.Start(config); err != nil {
		log.Printf("Failed to start presale application: %v", err)
		os.Exit(1)
	}

	waitForShutdown(a.Close)
}
