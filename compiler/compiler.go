package compiler

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/olekukonko/tablewriter"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/tac/compiler/cfg"
	"github.com/slowlang/tac/compiler/df"
	"github.com/slowlang/tac/compiler/interp"
	"github.com/slowlang/tac/compiler/ir"
	"github.com/slowlang/tac/compiler/opt"
)

// LoadFile reads and decodes a program; "" and "-" mean stdin.
func LoadFile(ctx context.Context, name string) (p *ir.Program, err error) {
	var data []byte

	if name == "" || name == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(name)
	}

	if err != nil {
		return nil, errors.Wrap(err, "read program")
	}

	tlog.SpanFromContext(ctx).Printw("read program", "size", len(data), "name", name)

	return Load(ctx, data)
}

func Load(ctx context.Context, data []byte) (p *ir.Program, err error) {
	p, err = ir.Decode(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse program")
	}

	return p, nil
}

// Optimize runs the named pass over every function and returns the rewritten
// program.
func Optimize(ctx context.Context, p *ir.Program, pass string) (_ *ir.Program, err error) {
	run, ok := opt.Get(pass)
	if !ok {
		return nil, errors.New("unknown pass %q, have %v", pass, strings.Join(opt.Names(), ", "))
	}

	res := &ir.Program{}

	for _, f := range p.Funcs {
		g, err := cfg.Build(ctx, f)
		if err != nil {
			return nil, errors.Wrap(err, "cfg %v", f.Name)
		}

		err = run(ctx, g)
		if err != nil {
			return nil, errors.Wrap(err, "%v %v", pass, f.Name)
		}

		err = g.Check()
		if err != nil {
			return nil, errors.Wrap(err, "%v left a malformed cfg in %v", pass, f.Name)
		}

		res.Funcs = append(res.Funcs, g.ToFunc())
	}

	return res, nil
}

// Run interprets main and writes its print output to w.
func Run(ctx context.Context, p *ir.Program, w io.Writer) (steps int, err error) {
	return interp.Run(ctx, p, w)
}

// Dot writes one GraphViz digraph per function.
func Dot(ctx context.Context, p *ir.Program, w io.Writer) (err error) {
	for _, f := range p.Funcs {
		g, err := cfg.Build(ctx, f)
		if err != nil {
			return errors.Wrap(err, "cfg %v", f.Name)
		}

		err = g.Dot(w)
		if err != nil {
			return errors.Wrap(err, "render %v", f.Name)
		}
	}

	return nil
}

// Report dumps the CFG, dominator relation, natural loops and the three
// dataflow analyses for every function.
func Report(ctx context.Context, p *ir.Program, w io.Writer) (err error) {
	for _, f := range p.Funcs {
		g, err := cfg.Build(ctx, f)
		if err != nil {
			return errors.Wrap(err, "cfg %v", f.Name)
		}

		err = g.Dot(w)
		if err != nil {
			return err
		}

		dom := g.Dominators()

		tw := tablewriter.NewWriter(w)
		tw.SetHeader([]string{"node", "dominators"})

		for _, n := range g.ReversePostorder() {
			var names []string

			for _, d := range dom[n].Slice() {
				names = append(names, g.Nodes[d].Name)
			}

			tw.Append([]string{g.Nodes[n].Name, strings.Join(names, " ")})
		}

		tw.Render()

		loops := g.NaturalLoops(dom)

		tw = tablewriter.NewWriter(w)
		tw.SetHeader([]string{"loop header", "tail", "body"})

		for _, l := range loops {
			var names []string

			for _, n := range l.Body.Slice() {
				names = append(names, g.Nodes[n].Name)
			}

			tw.Append([]string{g.Nodes[l.Header].Name, g.Nodes[l.Tail].Name, strings.Join(names, " ")})
		}

		tw.Render()

		for _, a := range []*df.Analysis{df.DefinedVars(), df.ReachingDefs(), df.LiveVars()} {
			res := df.Run(ctx, g, a)

			tw = tablewriter.NewWriter(w)
			tw.SetHeader([]string{"block", a.Name + " in", a.Name + " out"})

			for _, n := range g.ReversePostorder() {
				tw.Append([]string{g.Nodes[n].Name, formatSet(res.In[n]), formatSet(res.Out[n])})
			}

			tw.Render()
		}
	}

	return nil
}

func formatSet(s mapset.Set) string {
	if s == nil {
		return ""
	}

	var names []string

	s.Each(func(e any) bool {
		if d, ok := e.(df.Def); ok {
			names = append(names, d.String())
		} else {
			names = append(names, e.(string))
		}

		return false
	})

	sort.Strings(names)

	return strings.Join(names, " ")
}
