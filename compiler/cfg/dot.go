package cfg

import (
	"fmt"
	"io"
	"strings"
)

// Dot renders the graph as GraphViz source, one digraph per function, with
// block instruction listings as node labels.
func (g *Graph) Dot(w io.Writer) (err error) {
	_, err = fmt.Fprintf(w, "digraph %s {\n", g.Name)
	if err != nil {
		return err
	}

	for _, n := range g.Nodes {
		if n.removed {
			continue
		}

		var label strings.Builder

		label.WriteString(n.Name)

		if n.Block != nil {
			for _, x := range n.Block.Code {
				label.WriteString("\\n")
				label.WriteString(escape(x.String()))
			}
		}

		if n.Term != nil {
			label.WriteString("\\n")
			label.WriteString(escape(n.Term.String()))
		}

		_, err = fmt.Fprintf(w, "  %q [shape=box, label=\"%s\"];\n", n.Name, label.String())
		if err != nil {
			return err
		}
	}

	for _, n := range g.Nodes {
		if n.removed {
			continue
		}

		for _, s := range n.Succs.Slice() {
			_, err = fmt.Fprintf(w, "  %q -> %q;\n", n.Name, g.Nodes[s].Name)
			if err != nil {
				return err
			}
		}
	}

	_, err = fmt.Fprintf(w, "}\n")

	return err
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)

	return s
}
