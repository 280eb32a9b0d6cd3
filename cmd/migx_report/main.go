// migx_report inspects a saved graph snapshot and reports how the offload
// provider would partition it: which clusters the backend takes, their
// boundaries, and why (or why not) the graph falls back to the general
// executor.
//
// Usage:
//
//	migx_report [flags] <graph_file>
//	migx_report -write_demo <graph_file>
//
// The graph file is an ir.Graph snapshot saved with ir.Graph.Save.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/migx/backend"
	"github.com/gomlx/migx/ir"
	"github.com/gomlx/migx/provider"
	"github.com/gomlx/migx/types/shapes"

	_ "github.com/gomlx/migx/backend/goref"
)

var (
	flagBackend = flag.String("backend", "", "Backend configuration, formatted as "+
		"\"<backend_name>:<backend_configuration>\". Defaults to the MIGX_BACKEND "+
		"environment variable, or the first registered backend.")
	flagTarget = flag.String("target", "cpu", "Target device programs would be compiled "+
		"for: \"cpu\" or \"gpu\".")
	flagWriteDemo = flag.Bool("write_demo", false, "Write a small demo graph snapshot to "+
		"the given path and exit. Handy to try out the report.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one graph file argument. See 'migx_report -help'.")
		os.Exit(1)
	}
	if *flagWriteDemo {
		writeDemo(args[0])
		return
	}
	report(args[0])
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func report(graphPath string) {
	g := must.M1(ir.Load(graphPath))
	b := newBackend()
	p := must.M1(provider.New(b, *flagTarget))
	defer p.Finalize()

	// Graph summary.
	fmt.Println(titleStyle.Render("Graph"))
	var initializerBytes uint64
	for _, init := range g.Initializers() {
		initializerBytes += uint64(len(init.Data))
	}
	table := newPlainTable(false)
	table.Row("file", graphPath)
	table.Row("name", g.Name())
	table.Row("backend", fmt.Sprintf("%s (%s)", b.Name(), b.Description()))
	table.Row("target", *flagTarget)
	table.Row("# nodes", humanize.Comma(int64(g.NumNodes())))
	table.Row("# initializers", humanize.Comma(int64(len(g.Initializers()))))
	table.Row("initializer bytes", humanize.Bytes(initializerBytes))
	table.Row("inputs", strings.Join(g.Inputs(), ", "))
	table.Row("outputs", strings.Join(g.Outputs(), ", "))
	fmt.Println(table.Render())

	capabilities := p.GetCapability(g)
	if len(capabilities) == 0 {
		fmt.Println(titleStyle.Render("No offloadable clusters: full fallback to the general executor."))
		fmt.Println("Run with -v=1 (and -logtostderr) for the reasons.")
		return
	}

	fmt.Println(titleStyle.Render("Capabilities"))
	table = newPlainTable(true)
	table.Row("Name", "# Nodes", "Ops", "Inputs", "Outputs")
	totalNodes := 0
	for _, capability := range capabilities {
		totalNodes += len(capability.Nodes)
		opCounts := make(map[string]int)
		for _, nodeIdx := range capability.Nodes {
			opCounts[g.Node(nodeIdx).OpType]++
		}
		ops := make([]string, 0, len(opCounts))
		for op, count := range opCounts {
			ops = append(ops, fmt.Sprintf("%s×%d", op, count))
		}
		table.Row(
			capability.Name,
			humanize.Comma(int64(len(capability.Nodes))),
			strings.Join(ops, " "),
			strings.Join(capability.Inputs, ", "),
			strings.Join(capability.Outputs, ", "),
		)
	}
	fmt.Println(table.Render())
	fmt.Printf("%d of %d nodes offloaded to %q.\n", totalNodes, g.NumNodes(), b.Name())
}

func newBackend() backend.Backend {
	if *flagBackend != "" {
		return backend.NewWithConfig(*flagBackend)
	}
	return backend.New()
}

// writeDemo saves a small example graph: a two-layer float32 network with one
// unsupported node in the middle, so the report shows a real partition.
func writeDemo(graphPath string) {
	g := ir.New("demo")
	g.AddInput("x", shapes.Make(dtypes.Float32, 4, 8))
	g.AddInitializer("w0", shapes.Make(dtypes.Float32, 8, 16), make([]byte, 8*16*4))
	g.AddInitializer("w1", shapes.Make(dtypes.Float32, 16, 2), make([]byte, 16*2*4))
	g.AddValue("h0", shapes.Make(dtypes.Float32, 4, 16))
	g.AddValue("h1", shapes.Make(dtypes.Float32, 4, 16))
	g.AddValue("h2", shapes.Make(dtypes.Float32, 4, 16))
	g.AddValue("y", shapes.Make(dtypes.Float32, 4, 2))
	g.AddNode("dense0", "MatMul", []string{"x", "w0"}, []string{"h0"})
	g.AddNode("act0", "Relu", []string{"h0"}, []string{"h1"})
	g.AddNode("norm", "LayerNormalization", []string{"h1"}, []string{"h2"})
	g.AddNode("dense1", "MatMul", []string{"h2", "w1"}, []string{"y"})
	g.AddOutput("y")
	must.M(g.Freeze())
	must.M(g.Save(graphPath))
	fmt.Printf("Demo graph saved to %q.\n", graphPath)
}
