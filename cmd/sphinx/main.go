// Sphinx CLI - executes and inspects compiled Sphinx programs
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/sphinx/manifest"
	"github.com/chazu/sphinx/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	disasm := flag.Bool("d", false, "Disassemble the program instead of running it")
	gcThreshold := flag.Int("gc-threshold", 0, "Allocations between garbage collections (overrides sphinx.toml)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sphinx [options] program.spxc\n\n")
		fmt.Fprintf(os.Stderr, "Runs a compiled Sphinx bytecode program.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  sphinx main.spxc           # Run a compiled program\n")
		fmt.Fprintf(os.Stderr, "  sphinx -d main.spxc        # Print a disassembly listing\n")
		fmt.Fprintf(os.Stderr, "  sphinx -gc-threshold 256 main.spxc\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	prog, err := bytecode.UnmarshalProgram(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
		os.Exit(1)
	}

	if *disasm {
		fmt.Print(bytecode.DisassembleProgram(prog))
		os.Exit(0)
	}

	threshold := *gcThreshold
	if threshold <= 0 {
		threshold = loadThreshold(path, *verbose)
	}

	vm := bytecode.NewVM(prog)
	if threshold > 0 {
		vm.GCThreshold = threshold
	}
	if *verbose {
		fmt.Fprintf(os.Stderr, "Loaded %s (%d bytes, gc threshold %d)\n", path, len(data), vm.GCThreshold)
	}

	if err := vm.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadThreshold reads the gc-threshold from the nearest sphinx.toml, if any.
func loadThreshold(path string, verbose bool) int {
	dir := filepath.Dir(path)
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return 0
	}
	if m == nil {
		return 0
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Using manifest %s\n", filepath.Join(m.Dir, "sphinx.toml"))
	}
	return m.Runtime.GCThreshold
}
