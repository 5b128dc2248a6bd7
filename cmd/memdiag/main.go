// Command memdiag runs the memory integrity diagnostics on the simulated
// STM32G473 target.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/term"

	"memdiag/common"
	"memdiag/internal/config"
	"memdiag/internal/diag"
	"memdiag/internal/session"
)

type injections []session.Injection

func (i *injections) String() string {
	s := make([]string, len(*i))
	for n, inj := range *i {
		s[n] = inj.String()
	}
	return strings.Join(s, ",")
}

func (i *injections) Set(v string) error {
	inj, err := session.ParseInjection(v)
	if err != nil {
		return err
	}
	*i = append(*i, inj)
	return nil
}

func main() {
	cfgFile := flag.String("config", "", "INI configuration file")
	mode := flag.String("mode", "", "Test mode: normal, stress, sram, flash or cache")
	level := flag.String("log", "", "Minimum log level: debug, info, warning or error")
	cycles := flag.Uint("cycles", 100, "Cycles per boot, 0 runs until interrupted")
	sessions := flag.Int("sessions", 3, "Maximum number of boots, counting watchdog restarts")
	rate := flag.Uint64("rate", 0, "Simulated bus accesses per millisecond")
	tail := flag.Int("tail", 10, "Log lines replayed after a crash")
	describe := flag.Bool("describe", false, "Print the configuration and exit")
	var inject injections
	flag.Var(&inject, "inject", "Fault to inject, repeatable (stuck:ADDR:MASK:VALUE, short:LINE:START:END, couple:AGGR:VICTIM:MASK, trap:ADDR[:KIND], ecc:ADDR, ecc2:ADDR, erase-fail:N, program-fail:N, stale-cache)")

	flag.Parse()

	cfg := config.Default()
	if *cfgFile != "" {
		var err error
		if cfg, err = config.LoadFile(*cfgFile); err != nil {
			fmt.Printf("memdiag : Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *mode != "" {
		m, ok := diag.ParseMode(*mode)
		if !ok {
			fmt.Printf("memdiag : Error: unknown mode %q\n", *mode)
			os.Exit(1)
		}
		cfg.Mode = m
	}
	if *level != "" {
		sev, ok := common.ParseSeverity(*level)
		if !ok {
			fmt.Printf("memdiag : Error: unknown log level %q\n", *level)
			os.Exit(1)
		}
		cfg.LogLevel = sev
	}
	if *describe {
		cfg.Describe(os.Stdout)
		return
	}

	// A live progress line only makes sense on a terminal; redirected
	// output gets the plain log.
	width := 0
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil {
			width = w
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sum, err := session.Run(ctx, session.Config{
		Diag:          cfg,
		Cycles:        uint32(*cycles),
		Sessions:      *sessions,
		ClockRate:     *rate,
		Inject:        inject,
		Out:           os.Stdout,
		Log:           common.NewStdLogger(cfg.LogLevel),
		ProgressWidth: width,
		TailLines:     *tail,
	})
	sum.Write(os.Stdout)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if sum.Errors != 0 {
		os.Exit(2)
	}
}
