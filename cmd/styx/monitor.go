package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jrhy/styx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

// monitor prints the value, then each new value as writers commit, until
// interrupted or --count changes have been seen.
func monitor(c *cli.Context) error {
	a, err := initApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if addr := c.String("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Errorf("metrics listener: %v", err)
			}
		}()
		defer srv.Close()
	}

	ctx, cancel := signalContext(c)
	defer cancel()
	sess := styx.NewSession()
	for seen := 0; ; seen++ {
		v, err := a.cell.Get(ctx, sess)
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		s, err := formatValue(v)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, s)
		if n := c.Int("count"); n > 0 && seen >= n {
			return nil
		}
		if err := a.cell.Monitor(ctx, sess); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func init() {
	commands = append(commands, &cli.Command{
		Name:    "monitor",
		Aliases: []string{"m"},
		Usage:   "print the value each time it changes",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "stop after this many changes",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "serve prometheus metrics on this address",
				EnvVars: []string{"STYX_METRICS_ADDR"},
			},
		},
		Action: monitor,
	})
}
