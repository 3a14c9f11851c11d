/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// tiles runs the block-tiled kernel puzzles against their references and
// reports pass/fail per puzzle.
//
// Run a single puzzle with -puzzle, the whole suite with -all, or list the
// catalog with -list. Use -seed to vary the pseudo-random inputs and -v=1 for
// per-puzzle logging.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/tiles/harness"
	"github.com/gomlx/tiles/kernels"
)

var (
	flagPuzzle = flag.Int("puzzle", 0, "Puzzle number to run, 1 to 12. See -list for the catalog.")
	flagAll    = flag.Bool("all", false, "Run every puzzle in order, stopping at the first failure.")
	flagList   = flag.Bool("list", false, "List the puzzle catalog and exit.")
	flagSeed   = flag.Int64("seed", 42, "Seed for the pseudo-random inputs. The same seed always "+
		"produces the same inputs and the same outcome.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	switch {
	case *flagList:
		list()
	case *flagAll:
		runAll()
	case *flagPuzzle != 0:
		runOne(*flagPuzzle)
	default:
		fmt.Fprintln(os.Stderr, "Nothing to do: pass -puzzle N, -all or -list. See -help.")
		os.Exit(1)
	}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				return oddRowStyle
			}
			return evenRowStyle
		}).
		Headers(headers...)
}

func list() {
	table := newTable("#", "Puzzle", "Grid", "Output", "Elements")
	for _, p := range kernels.All() {
		table.Row(
			fmt.Sprintf("%d", p.Number),
			p.Name,
			fmt.Sprintf("%v", p.Grid.Axes),
			p.Output.String(),
			humanize.Comma(int64(p.Output.Size())))
	}
	fmt.Println(table)
}

func runOne(number int) {
	p := kernels.ByNumber(number)
	if p == nil {
		klog.Errorf("No puzzle numbered %d, valid numbers are 1 to %d. See -list.", number, len(kernels.All()))
		os.Exit(1)
	}
	result, err := harness.Run(p, *flagSeed)
	if err != nil {
		fmt.Printf("%s %s\n", failStyle.Render("FAIL"), err)
		os.Exit(1)
	}
	fmt.Printf("%s puzzle %d (%s): max |diff|=%.3g over %s elements\n",
		passStyle.Render("PASS"), p.Number, p.Name, result.MaxAbsDiff,
		humanize.Comma(int64(result.Elements)))
}

func runAll() {
	puzzles := kernels.All()
	bar := progressbar.Default(int64(len(puzzles)), "puzzles")
	results, err := harness.RunAll(puzzles, *flagSeed, func(result *harness.Result, err error) {
		must.M(bar.Add(1))
	})
	must.M(bar.Finish())
	fmt.Println()

	table := newTable("#", "Puzzle", "Status", "Max |diff|", "Elements")
	for _, r := range results {
		status := passStyle.Render("pass")
		if err != nil && r == results[len(results)-1] {
			status = failStyle.Render("FAIL")
		}
		table.Row(
			fmt.Sprintf("%d", r.Puzzle.Number),
			r.Puzzle.Name,
			status,
			fmt.Sprintf("%.3g", r.MaxAbsDiff),
			humanize.Comma(int64(r.Elements)))
	}
	fmt.Println(table)
	if err != nil {
		fmt.Printf("%s %s\n", failStyle.Render("FAIL"), err)
		os.Exit(1)
	}
	fmt.Printf("%s all %d puzzles within tolerance (seed=%d)\n",
		passStyle.Render("PASS"), len(results), *flagSeed)
}
