// Package disasm declares the external collaborators the lifter core
// consumes synchronously: a machine-code disassembler and a symbol
// resolver. Binary parsing, section lookup and instruction decoding
// are explicitly out of scope for this module (spec §1) — this
// package only names the interfaces, plus a deterministic in-memory
// fake used by tests and the CLI's --fixture mode.
package disasm

import "github.com/irlift/x64ir/internal/machine"

// Section is the minimal section-table fact the lifter needs: an
// address range and a name, used to bound recursive descent and to
// recognize PLT stubs.
type Section struct {
	Name  string
	Start uint64
	End   uint64 // exclusive
}

// Contains reports whether addr falls inside [Start, End).
func (s Section) Contains(addr uint64) bool {
	return addr >= s.Start && addr < s.End
}

// Disassembler is the upstream collaborator that turns a load-free
// address into a decoded MachineFunction, and answers section/name
// queries about the binary being lifted. Matches spec §6.1.
type Disassembler interface {
	// Disassemble decodes the function starting at addr.
	Disassemble(addr uint64) (*machine.Function, error)

	// SectionByAddress returns the section containing addr, if any.
	SectionByAddress(addr uint64) (Section, bool)

	// SetSection changes the disassembler's notion of "current section",
	// used to scope subsequent bounds checks.
	SetSection(s Section)

	// CurrentSection returns the previously-set current section.
	CurrentSection() Section

	// FunctionName returns the disassembler's best-guess name for the
	// function at addr (symbol table lookup), or "" if unknown.
	FunctionName(addr uint64) string

	// RelocFunctionName rewrites name if addr is a relocation slot
	// (e.g. a PLT/GOT entry), otherwise returns name unchanged.
	RelocFunctionName(addr uint64, name string) string
}

// SymbolResolver answers process-inspection queries: PLT resolution,
// symbol-to-address and address-to-symbol lookups, and load/unload
// address translation. Matches spec §6.1.
type SymbolResolver interface {
	// FuncNameInPLT returns the external symbol name a PLT stub at addr
	// resolves to, or "" if addr is not a PLT stub.
	FuncNameInPLT(addr uint64) string

	// FuncName returns the symbol name for addr, or "" if unknown.
	FuncName(addr uint64) string

	// UnloadAddr converts a runtime-loaded address back to its
	// load-free object-file offset.
	UnloadAddr(loadAddr uint64) uint64

	// LoadAddr converts a load-free offset in section sec of object obj
	// to a runtime-loaded address.
	LoadAddr(unloadAddr uint64, obj, sec string) uint64

	// Addr returns the load-free address of symbol name, or 0 if unknown.
	Addr(name string) uint64
}
