// Package symbols resolves target addresses to function, file and line
// using the ELF image the target firmware was built from.
package symbols

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// Unknown is reported for addresses that cannot be resolved.
const Unknown = "Unknown"

// Result is the outcome of a lookup.
type Result struct {
	Addr     uint32 `json:"addr"`
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Class    Class  `json:"-"`
	Found    bool   `json:"found"`
}

// Interrupt reports whether the address was an EXC_RETURN value.
func (r Result) Interrupt() bool {
	return r.Class != ClassNone
}

func (r Result) String() string {
	switch {
	case r.Interrupt():
		return r.Class.String()
	case !r.Found:
		return Unknown
	case r.File == "":
		return r.Function
	default:
		return fmt.Sprintf("%s (%s:%d)", r.Function, r.File, r.Line)
	}
}

// Options tune how an image is loaded.
type Options struct {
	// StripPrefix is removed from the front of source file names, as far
	// as it matches.
	StripPrefix string
}

type function struct {
	name string
	addr uint64
	size uint64
}

type lineRow struct {
	addr uint64
	end  uint64
	file string
	line int
}

type section struct {
	name string
	addr uint64
	size uint64
}

// Set is one loaded image. It is immutable after Load.
type Set struct {
	path     string
	stamp    stamp
	loadedAt time.Time
	funcs    []function
	rows     []lineRow
	sections []section
	strip    string
}

// Load reads function symbols and, when present, DWARF line tables from
// the ELF file at path.
func Load(path string, opts Options) (*Set, error) {
	st, err := statStamp(path)
	if err != nil {
		return nil, fmt.Errorf("stat symbol file: %w", err)
	}

	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening elf: %w", err)
	}
	defer f.Close()

	s := &Set{
		path:     path,
		stamp:    st,
		loadedAt: time.Now(),
		strip:    opts.StripPrefix,
	}

	for _, sec := range f.Sections {
		if sec.Flags&elf.SHF_ALLOC == 0 || sec.Size == 0 {
			continue
		}
		s.sections = append(s.sections, section{name: sec.Name, addr: sec.Addr, size: sec.Size})
	}

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("reading symbols: %w", err)
	}
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Name == "" {
			continue
		}
		// Thumb entry points carry bit 0.
		s.funcs = append(s.funcs, function{name: sym.Name, addr: sym.Value &^ 1, size: sym.Size})
	}
	if len(s.funcs) == 0 {
		return nil, fmt.Errorf("%w: %s has no function symbols", ErrNoSymbols, path)
	}
	sort.Slice(s.funcs, func(i, j int) bool { return s.funcs[i].addr < s.funcs[j].addr })

	if d, err := f.DWARF(); err == nil {
		s.rows = readLines(d)
	}
	return s, nil
}

func readLines(d *dwarf.Data) []lineRow {
	var rows []lineRow
	r := d.Reader()
	for {
		e, err := r.Next()
		if err != nil || e == nil {
			break
		}
		if e.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		lr, err := d.LineReader(e)
		r.SkipChildren()
		if err != nil || lr == nil {
			continue
		}

		var le dwarf.LineEntry
		start := len(rows)
		for {
			if err := lr.Next(&le); err != nil {
				if err != io.EOF {
					rows = rows[:start]
				}
				break
			}
			if n := len(rows); n > start && rows[n-1].end == 0 {
				rows[n-1].end = le.Address
			}
			if le.EndSequence {
				start = len(rows)
				continue
			}
			name := ""
			if le.File != nil {
				name = le.File.Name
			}
			rows = append(rows, lineRow{addr: le.Address, file: name, line: le.Line})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].addr < rows[j].addr })
	return rows
}

// Path returns the file the set was loaded from.
func (s *Set) Path() string {
	return s.path
}

// LoadedAt returns when the set was loaded.
func (s *Set) LoadedAt() time.Time {
	return s.loadedAt
}

// Functions returns the number of function symbols.
func (s *Set) Functions() int {
	return len(s.funcs)
}

// Valid reports whether the file on disk is still the one that was loaded.
func (s *Set) Valid() bool {
	cur, err := statStamp(s.path)
	return err == nil && cur == s.stamp
}

// Lookup resolves addr. EXC_RETURN values are classified without touching
// the tables; addresses outside every allocated section are Unknown.
func (s *Set) Lookup(addr uint32) Result {
	if class, ok := Classify(addr); ok {
		return Result{Addr: addr, Function: class.String(), Class: class}
	}

	a := uint64(addr)
	inSection := func(a uint64) bool {
		for _, sec := range s.sections {
			if a >= sec.addr && a < sec.addr+sec.size {
				return true
			}
		}
		return false
	}
	if !inSection(a) {
		return unknown(addr)
	}

	fn, ok := s.function(a)
	if !ok {
		return unknown(addr)
	}
	res := Result{Addr: addr, Function: fn.name, Found: true}
	if row, ok := s.line(a); ok {
		res.File = stripCommon(row.file, s.strip)
		res.Line = row.line
	}
	return res
}

func unknown(addr uint32) Result {
	return Result{Addr: addr, Function: Unknown, File: Unknown}
}

func (s *Set) function(a uint64) (function, bool) {
	i := sort.Search(len(s.funcs), func(i int) bool { return s.funcs[i].addr > a }) - 1
	if i < 0 {
		return function{}, false
	}
	fn := s.funcs[i]
	if fn.size > 0 && a >= fn.addr+fn.size {
		return function{}, false
	}
	return fn, true
}

func (s *Set) line(a uint64) (lineRow, bool) {
	i := sort.Search(len(s.rows), func(i int) bool { return s.rows[i].addr > a }) - 1
	if i < 0 {
		return lineRow{}, false
	}
	row := s.rows[i]
	if row.end != 0 && a >= row.end {
		return lineRow{}, false
	}
	return row, true
}

// stripCommon drops the leading part of name that matches prefix.
func stripCommon(name, prefix string) string {
	i := 0
	for i < len(name) && i < len(prefix) && name[i] == prefix[i] {
		i++
	}
	return name[i:]
}
