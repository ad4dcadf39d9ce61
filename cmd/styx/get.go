package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jrhy/styx"
	"github.com/urfave/cli/v2"
)

func get(c *cli.Context) error {
	a, err := initApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.cell.Get(c.Context, styx.NewSession())
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if m, ok := v.(styx.Map); ok && c.Bool("table") {
		return renderEntries(c.App.Writer, m)
	}
	s, err := formatValue(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, s)
	return nil
}

// renderEntries prints one row per map entry, values in the text encoding.
func renderEntries(w io.Writer, m styx.Map) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Key", "Value"})
	count := 0
	err := m.Iter(func(key, val styx.Value) error {
		k, err := formatValue(key)
		if err != nil {
			return err
		}
		v, err := formatValue(val)
		if err != nil {
			return err
		}
		count++
		t.AppendRow(table.Row{count, k, v})
		return nil
	})
	if err != nil {
		return fmt.Errorf("entries: %w", err)
	}
	t.AppendFooter(table.Row{"", "Total", count})
	t.Render()
	return nil
}

func init() {
	commands = append(commands, &cli.Command{
		Name:    "get",
		Aliases: []string{"g"},
		Usage:   "print the current value",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "table",
				Aliases: []string{"t"},
				Usage:   "print a map as a table of entries",
			},
		},
		Action: get,
	})
}
