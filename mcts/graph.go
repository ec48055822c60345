package mcts

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/awalterschulze/gographviz"
)

type dotNode struct {
	*Node
	ID    int
	Depth int
}

func (d *dotNode) MoveName() string {
	if d.Depth == 0 {
		return "root"
	}
	return d.Move().String()
}

func (d *dotNode) TerminalTag() string {
	t := d.Terminal()
	switch {
	case t.IsNonTerminal():
		return "-"
	case t.IsDraw():
		return "draw"
	case t.IsMateInN():
		return fmt.Sprintf("mate in %d", t.MateN())
	}
	return fmt.Sprintf("mated in %d", t.OpponentMateN())
}

// ToDot renders the tree under root as graphviz, down to maxDepth and
// skipping unvisited children. Debugging aid for small searches; a full
// self-play tree is far too large to draw.
func ToDot(root *Node, maxDepth int) string {
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		panic(err)
	}
	g.SetDir(true)

	var buf bytes.Buffer
	nextID := 0
	var walk func(node *Node, depth int) int
	walk = func(node *Node, depth int) int {
		id := nextID
		nextID++

		dn := &dotNode{Node: node, ID: id, Depth: depth}
		dotTmpl.Execute(&buf, dn)
		attrs := map[string]string{
			"fontname": "Monaco",
			"shape":    "none",
			"label":    buf.String(),
		}
		g.AddNode("G", fmt.Sprintf("n%d", id), attrs)
		buf.Reset()

		if depth >= maxDepth {
			return id
		}
		children := node.Children()
		for i := range children {
			child := &children[i]
			if child.VisitCount() == 0 {
				continue
			}
			childID := walk(child, depth+1)
			g.AddEdge(fmt.Sprintf("n%d", id), fmt.Sprintf("n%d", childID), true, nil)
		}
		return id
	}
	walk(root, 0)
	return g.String()
}

const dotTmplRaw = `<
<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0">
<TR><TD>Move</TD><TD>{{.MoveName}}</TD></TR>
<TR><TD>Visits</TD><TD>{{.VisitCount}}</TD></TR>
<TR><TD>Prior</TD><TD>{{printf "%.3f" .Prior}}</TD></TR>
<TR><TD>Value</TD><TD>{{printf "%.3f" .Value}}</TD></TR>
<TR><TD>Terminal</TD><TD>{{.TerminalTag}}</TD></TR>
</TABLE>
>
`

var dotTmpl *template.Template

func init() {
	dotTmpl = template.Must(template.New("node").Parse(dotTmplRaw))
}
