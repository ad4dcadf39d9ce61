package main

import (
	"fmt"

	"github.com/jrhy/styx"
	"github.com/urfave/cli/v2"
)

func set(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("set needs one value")
	}
	v, err := parseValue(c.Args().Get(0))
	if err != nil {
		return err
	}
	a, err := initApp(c)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.cell.Set(c.Context, styx.NewSession(), v)
}

// testset replaces the value only if it still equals the expected one. A
// lost race exits with status 2 and leaves the value alone.
func testset(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("testset needs the expected and the new value")
	}
	expected, err := parseValue(c.Args().Get(0))
	if err != nil {
		return err
	}
	next, err := parseValue(c.Args().Get(1))
	if err != nil {
		return err
	}
	a, err := initApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	sess := styx.NewSession()
	current, err := a.cell.Get(c.Context, sess)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if !styx.Equal(current, expected) {
		s, _ := formatValue(current)
		return cli.Exit(fmt.Sprintf("conflict: value is %s", s), 2)
	}
	ok, err := a.cell.TestSet(c.Context, sess, next)
	if err != nil {
		return fmt.Errorf("testset: %w", err)
	}
	if !ok {
		return cli.Exit("conflict: value changed concurrently", 2)
	}
	return nil
}

func init() {
	commands = append(commands,
		&cli.Command{
			Name:      "set",
			Aliases:   []string{"s"},
			Usage:     "replace the value unconditionally",
			ArgsUsage: "<value>",
			Action:    set,
		},
		&cli.Command{
			Name:      "testset",
			Usage:     "replace the value if it still equals <expected>",
			ArgsUsage: "<expected> <value>",
			Action:    testset,
		})
}
