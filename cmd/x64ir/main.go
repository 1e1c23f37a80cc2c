// Command x64ir lifts a load-free x86-64 function (and everything it
// calls) into LLVM textual IR. It takes its input from a small
// fixture file rather than a real object-file parser: parsing ELF/PE
// and driving a production disassembler is explicitly out of scope
// for this module (spec §1) — x64ir exists to exercise the lifter
// core end to end, the way a real front end eventually would.
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kr/pretty"
	"github.com/spf13/cobra"

	"github.com/irlift/x64ir/internal/decompile"
	"github.com/irlift/x64ir/internal/disasm"
	"github.com/irlift/x64ir/internal/irutil"
	"github.com/irlift/x64ir/internal/regfile"
	"github.com/irlift/x64ir/internal/xlog"
)

const (
	targetTriple = "x86_64-unknown-linux-gnu"
	dataLayout   = "e-m:e-p270:32:32-p271:32:32-p272:64:64-i64:64-f80:128-n8:16:32:64-S128"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "x64ir",
		Short:         "Lift x86-64 machine code to LLVM IR",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			xlog.SetVerbose(verbose)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug tracing")
	root.AddCommand(newDecompileCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the x64ir version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "x64ir 0.1.0")
			return nil
		},
	}
}

func newDecompileCmd() *cobra.Command {
	var (
		fixturePath string
		entry       string
		out         string
	)
	cmd := &cobra.Command{
		Use:   "decompile",
		Short: "Recursively decompile a function from a fixture file and print LLVM IR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fixturePath == "" {
				return fmt.Errorf("decompile: --fixture is required")
			}
			f, err := os.Open(fixturePath)
			if err != nil {
				return err
			}
			defer f.Close()

			fake, defaultEntry, err := parseFixture(f)
			if err != nil {
				return fmt.Errorf("decompile: %s: %w", fixturePath, err)
			}
			xlog.Debug.Printf("fixture loaded: %d functions, %d sections\n%s",
				len(fake.Code), len(fake.Sections), pretty.Sprint(fake.Code))

			addr := defaultEntry
			if entry != "" {
				addr, err = parseAddr(entry)
				if err != nil {
					return fmt.Errorf("decompile: --entry: %w", err)
				}
			}
			if addr == 0 {
				return fmt.Errorf("decompile: no entry address given (pass --entry or an \"entry\" line)")
			}

			widths := regfile.GPRWidths()
			for name, w := range regfile.SegBaseCells() {
				widths[name] = w
			}
			mod := irutil.NewModule(targetTriple, dataLayout, widths)

			dec := decompile.New(mod, fake, fake)
			if err := dec.Decompile(addr); err != nil {
				return fmt.Errorf("decompile: %w", err)
			}

			w := cmd.OutOrStdout()
			if out != "" {
				of, err := os.Create(out)
				if err != nil {
					return err
				}
				defer of.Close()
				w = of
			}
			fmt.Fprintln(w, mod.LLVM.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "path to a fixture file describing code, sections and symbols")
	cmd.Flags().StringVar(&entry, "entry", "", "hex load-free address to start decompiling from (overrides the fixture's \"entry\" line)")
	cmd.Flags().StringVar(&out, "out", "", "write IR to this file instead of stdout")
	return cmd
}

// parseFixture reads the line-oriented fixture format:
//
//	section <name> <start-hex> <end-hex>
//	code    <addr-hex> <hex-bytes>
//	name    <addr-hex> <symbol>
//	plt     <addr-hex> <symbol>
//	reloc   <addr-hex> <symbol>
//	entry   <addr-hex>
//
// Blank lines and lines starting with # are ignored.
func parseFixture(r *os.File) (*disasm.Fake, uint64, error) {
	fake := disasm.NewFake()
	var entry uint64

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		kind := fields[0]
		switch kind {
		case "section":
			if len(fields) != 4 {
				return nil, 0, fmt.Errorf("line %d: section wants 3 fields", lineNo)
			}
			start, err := parseAddr(fields[2])
			if err != nil {
				return nil, 0, fmt.Errorf("line %d: %w", lineNo, err)
			}
			end, err := parseAddr(fields[3])
			if err != nil {
				return nil, 0, fmt.Errorf("line %d: %w", lineNo, err)
			}
			fake.Sections = append(fake.Sections, disasm.Section{Name: fields[1], Start: start, End: end})

		case "code":
			if len(fields) != 3 {
				return nil, 0, fmt.Errorf("line %d: code wants 2 fields", lineNo)
			}
			addr, err := parseAddr(fields[1])
			if err != nil {
				return nil, 0, fmt.Errorf("line %d: %w", lineNo, err)
			}
			raw, err := hex.DecodeString(fields[2])
			if err != nil {
				return nil, 0, fmt.Errorf("line %d: bad hex bytes: %w", lineNo, err)
			}
			fake.Code[addr] = raw

		case "name":
			if len(fields) != 3 {
				return nil, 0, fmt.Errorf("line %d: name wants 2 fields", lineNo)
			}
			addr, err := parseAddr(fields[1])
			if err != nil {
				return nil, 0, fmt.Errorf("line %d: %w", lineNo, err)
			}
			fake.Names[addr] = fields[2]
			fake.Symbols[fields[2]] = addr

		case "plt":
			if len(fields) != 3 {
				return nil, 0, fmt.Errorf("line %d: plt wants 2 fields", lineNo)
			}
			addr, err := parseAddr(fields[1])
			if err != nil {
				return nil, 0, fmt.Errorf("line %d: %w", lineNo, err)
			}
			fake.PLT[addr] = fields[2]

		case "reloc":
			if len(fields) != 3 {
				return nil, 0, fmt.Errorf("line %d: reloc wants 2 fields", lineNo)
			}
			addr, err := parseAddr(fields[1])
			if err != nil {
				return nil, 0, fmt.Errorf("line %d: %w", lineNo, err)
			}
			fake.Relocs[addr] = fields[2]

		case "entry":
			if len(fields) != 2 {
				return nil, 0, fmt.Errorf("line %d: entry wants 1 field", lineNo)
			}
			addr, err := parseAddr(fields[1])
			if err != nil {
				return nil, 0, fmt.Errorf("line %d: %w", lineNo, err)
			}
			entry = addr

		default:
			return nil, 0, fmt.Errorf("line %d: unknown directive %q", lineNo, kind)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	return fake, entry, nil
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, 64)
}
