// Command sandboxdump reads an AOT-compiled artifact and prints its heap
// spec, sparse-page summary, tables, signatures, globals, exports, and
// start function, exiting 0 on success (spec.md §6 "CLI (objdump tool)").
// It prints no function list (addresses, sizes, trap manifests) and no
// imports.
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/aotwasm/sandboxrt/abi"
	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/internal/moduledata"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated from main for unit testing, matching the teacher's
// own cmd/wazero convention of an injected io.Writer pair.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("sandboxdump", flag.ContinueOnError)
	flags.SetOutput(stdErr)
	var help bool
	flags.BoolVar(&help, "h", false, "Prints usage.")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if help || flags.NArg() != 1 {
		printUsage(stdErr)
		if help {
			return 0
		}
		return 1
	}

	path := flags.Arg(0)
	mod, err := loadModuleForDump(path)
	if err != nil {
		fmt.Fprintf(stdErr, "sandboxdump: %v\n", err)
		return 1
	}
	dump(stdOut, mod)
	return 0
}

// loadModuleForDump reads an artifact file and assembles the Module view
// sandboxdump prints. The AOT compiler's binary/object-file encoding of
// module_data is out of scope (spec.md §1), so this host defines its own:
// an ArtifactDescriptor header (spec.md §6) followed by three sections
// addressed by the descriptor's *_ptr/*_len fields taken as byte offsets
// into the file, with module_data gob-encoded as a moduledata.ModuleData
// value and the tables/function-manifest sections in the packed binary
// layout abi.ParseTables/abi.ParseFunctionManifest already expect.
func loadModuleForDump(path string) (moduledata.Module, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	desc, err := abi.ParseArtifactDescriptor(raw)
	if err != nil {
		return nil, err
	}

	moduleDataBytes, err := section(raw, desc.ModuleDataPtr, desc.ModuleDataLen)
	if err != nil {
		return nil, fmt.Errorf("module_data section: %w", err)
	}
	var data moduledata.ModuleData
	if err := gob.NewDecoder(bytes.NewReader(moduleDataBytes)).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode module_data: %w", err)
	}

	tables, err := section(raw, desc.TablesPtr, desc.TablesLen)
	if err != nil {
		return nil, fmt.Errorf("tables section: %w", err)
	}
	manifest, err := section(raw, desc.FunctionManifestPtr, desc.FunctionManifestLen)
	if err != nil {
		return nil, fmt.Errorf("function manifest section: %w", err)
	}

	return moduledata.NewLoaded(data, manifest, tables)
}

// section slices raw[ptr:ptr+length], rejecting an out-of-bounds or
// overflowing range rather than panicking on a malformed artifact.
func section(raw []byte, ptr, length uint64) ([]byte, error) {
	end := ptr + length
	if end < ptr || end > uint64(len(raw)) {
		return nil, fmt.Errorf("range [%d:%d] out of bounds for %d-byte artifact", ptr, end, len(raw))
	}
	return raw[ptr:end], nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "sandboxdump prints the contents of an AOT-compiled sandbox artifact.")
	fmt.Fprintln(w, "usage: sandboxdump <path-to-artifact>")
}

// dump writes the human-readable summary: heap spec, sparse-page summary,
// tables, signatures, globals, exports, and start function. No function
// list and no imports are printed.
func dump(w io.Writer, mod moduledata.Module) {
	spec := mod.HeapSpec()
	fmt.Fprintln(w, "== heap spec ==")
	fmt.Fprintf(w, "  reserved:  %d bytes\n", spec.ReservedSize)
	fmt.Fprintf(w, "  guard:     %d bytes\n", spec.GuardSize)
	fmt.Fprintf(w, "  initial:   %d bytes (%d pages)\n", spec.InitialSize, spec.InitialPages())
	if spec.MaxSize != nil {
		fmt.Fprintf(w, "  max:       %d bytes\n", *spec.MaxSize)
	} else {
		fmt.Fprintln(w, "  max:       (unbounded)")
	}

	sparse := mod.SparsePages()
	fmt.Fprintf(w, "\n== sparse pages (%d) ==\n", len(sparse))
	for _, p := range sparse {
		kind := "data"
		if p.Data == nil {
			kind = "zero"
		}
		fmt.Fprintf(w, "  page %d: %s (%d bytes)\n", p.PageIndex, kind, len(p.Data))
	}

	table := mod.Table()
	fmt.Fprintf(w, "\n== table (%d entries) ==\n", len(table))
	for i, e := range table {
		if e.Address == 0 {
			fmt.Fprintf(w, "  [%d] <null>\n", i)
			continue
		}
		fmt.Fprintf(w, "  [%d] type=%d addr=%#x\n", i, e.TypeID, e.Address)
	}

	sigs := mod.Signatures()
	fmt.Fprintf(w, "\n== signatures (%d) ==\n", len(sigs))
	for i, s := range sigs {
		fmt.Fprintf(w, "  #%d: %s\n", i, s)
	}

	globals := mod.Globals()
	fmt.Fprintf(w, "\n== globals (%d) ==\n", len(globals))
	for i, g := range globals {
		if g.Imported {
			fmt.Fprintf(w, "  #%d: %s (imported)\n", i, api.ValueTypeName(g.Type))
		} else {
			fmt.Fprintf(w, "  #%d: %s = %#x\n", i, api.ValueTypeName(g.Type), g.Initial)
		}
	}

	names := mod.ExportNames()
	sort.Strings(names)
	fmt.Fprintf(w, "\n== exports (%d) ==\n", len(names))
	for _, n := range names {
		d, _ := mod.Export(n)
		start := ""
		if d.IsStart {
			start = " (start)"
		}
		fmt.Fprintf(w, "  %s: addr=%#x sig=%s%s\n", n, d.Address, d.Signature, start)
	}

	if start, ok := mod.StartFunction(); ok {
		fmt.Fprintf(w, "\n== start function ==\n  addr=%#x sig=%s\n", start.Address, start.Signature)
	}
}
