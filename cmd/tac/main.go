package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/tac/compiler"
	"github.com/slowlang/tac/compiler/ir"
)

func main() {
	interpCmd := &cli.Command{
		Name:        "interp",
		Description: "execute main and print its output",
		Action:      interpAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("count,c", false, "report executed instruction count"),
		},
	}

	optCmd := &cli.Command{
		Name:        "opt",
		Description: "run an optimization pass and print the program back",
		Action:      optAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("n", "dce", "pass to run"),
			cli.NewFlag("i", "", "input file, stdin if empty"),
			cli.NewFlag("o", "", "output file, stdout if empty"),
		},
	}

	cfgCmd := &cli.Command{
		Name:        "cfg",
		Description: "render control-flow graphs as graphviz",
		Action:      cfgAct,
		Args:        cli.Args{},
	}

	domCmd := &cli.Command{
		Name:        "dom",
		Description: "dump cfg, dominators, loops and dataflow results",
		Action:      domAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "tac",
		Description: "tac is a toolchain for a three-address intermediate language",
		Commands: []*cli.Command{
			interpCmd,
			optCmd,
			cfgCmd,
			domCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func load(ctx context.Context, args []string) (*ir.Program, error) {
	name := ""
	if len(args) != 0 {
		name = args[0]
	}

	return compiler.LoadFile(ctx, name)
}

func interpAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	p, err := load(ctx, c.Args)
	if err != nil {
		return errors.Wrap(err, "load")
	}

	steps, err := compiler.Run(ctx, p, os.Stdout)
	if err != nil {
		return errors.Wrap(err, "run")
	}

	if c.Bool("count") {
		fmt.Printf("Executed %d instructions.\n", steps)
	}

	return nil
}

func optAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	p, err := compiler.LoadFile(ctx, c.String("i"))
	if err != nil {
		return errors.Wrap(err, "load")
	}

	p, err = compiler.Optimize(ctx, p, c.String("n"))
	if err != nil {
		return errors.Wrap(err, "optimize")
	}

	data, err := ir.Encode(p)
	if err != nil {
		return errors.Wrap(err, "encode")
	}

	data = append(data, '\n')

	if out := c.String("o"); out != "" {
		err = os.WriteFile(out, data, 0o644)
	} else {
		_, err = os.Stdout.Write(data)
	}

	return errors.Wrap(err, "write")
}

func cfgAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	p, err := load(ctx, c.Args)
	if err != nil {
		return errors.Wrap(err, "load")
	}

	return compiler.Dot(ctx, p, os.Stdout)
}

func domAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	p, err := load(ctx, c.Args)
	if err != nil {
		return errors.Wrap(err, "load")
	}

	return compiler.Report(ctx, p, os.Stderr)
}
