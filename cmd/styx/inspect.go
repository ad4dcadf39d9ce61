package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jrhy/styx"
	"github.com/jrhy/styx/mapped"
	"github.com/jrhy/styx/persist/file"
	s3cell "github.com/jrhy/styx/persist/s3"
	"github.com/urfave/cli/v2"
)

func inspect(c *cli.Context) error {
	a, err := initApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("styx %s", a.cfg.Backend))
	t.AppendHeader(table.Row{"Field", "Value"})

	switch cell := a.cell.(type) {
	case *mapped.Cell:
		st := cell.Store().Stats()
		t.AppendRow(table.Row{"Path", a.cfg.Path})
		t.AppendRow(table.Row{"Region size", st.Size})
		t.AppendRow(table.Row{"Allocated", st.Cursor})
		t.AppendRow(table.Row{"Root word", fmt.Sprintf("%#016x", st.Root)})
	case *file.Cell:
		t.AppendRow(table.Row{"Path", cell.Path()})
		version, err := cell.Version()
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{"Version", version})
		_, err = os.Stat(cell.LockPath())
		switch {
		case err == nil:
			t.AppendRow(table.Row{"Lock", "held"})
		case errors.Is(err, fs.ErrNotExist):
			t.AppendRow(table.Row{"Lock", "free"})
		default:
			return fmt.Errorf("stat lock: %w", err)
		}
	case *s3cell.Cell:
		t.AppendRow(table.Row{"Object", fmt.Sprintf("s3://%s/%s", a.cfg.S3.Bucket, a.cfg.S3.Key)})
		version, err := cell.Version(c.Context)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{"Version", version})
	}

	v, err := a.cell.Get(c.Context, styx.NewSession())
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if v == nil {
		t.AppendRow(table.Row{"Value", "none"})
		t.Render()
		return nil
	}
	t.AppendRow(table.Row{"Kind", v.Kind()})
	if m, ok := v.(styx.Map); ok {
		n, err := styx.Len(m)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{"Entries", n})
		if tree, ok := m.SortedMap.(mapped.Tree); ok {
			h, err := tree.Height()
			if err != nil {
				return err
			}
			t.AppendRow(table.Row{"Tree height", h})
		}
		d, err := styx.Digest(m)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{"Digest", hex.EncodeToString(d[:])})
	}
	t.Render()
	return nil
}

// initRegion creates a mapped region, or checks an existing one.
func initRegion(c *cli.Context) error {
	a, err := initApp(c)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.store == nil {
		return fmt.Errorf("init applies to the mapped backend, not %s", a.cfg.Backend)
	}
	if err := a.store.Sync(); err != nil {
		return err
	}
	st := a.store.Stats()
	fmt.Fprintf(c.App.Writer, "%s: %d bytes, %d allocated\n", a.cfg.Path, st.Size, st.Cursor)
	return nil
}

func init() {
	commands = append(commands,
		&cli.Command{
			Name:    "inspect",
			Aliases: []string{"i"},
			Usage:   "describe the backend and the stored value",
			Action:  inspect,
		},
		&cli.Command{
			Name:   "init",
			Usage:  "create a mapped region of --region-size bytes",
			Action: initRegion,
		})
}
