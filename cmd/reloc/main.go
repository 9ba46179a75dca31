// Command reloc shows how an entry point would be relocated into a
// trampoline.
//
//	reloc [-mode 32|64] [-src addr] [-dst addr] [-min n] [-v] HEXBYTES
//
// Defaults come from RELOC_MODE, RELOC_SRC, RELOC_DST, RELOC_MIN and
// RELOC_VERBOSE.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"

	"github.com/0xffffa/gohooker/trampoline"
)

type config struct {
	Mode    int
	Src     uintptr
	Dst     uintptr
	Min     int
	Verbose bool
	Code    []byte
}

func parseAddr(s string) (uintptr, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad address %q", s)
	}
	return uintptr(v), nil
}

func parseHex(args []string) ([]byte, error) {
	s := strings.Join(args, "")
	s = strings.NewReplacer(" ", "", "\t", "", "0x", "", ",", "").Replace(s)
	code, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "bad hex code")
	}
	return code, nil
}

// parseConfig reads defaults from the environment and overrides them with
// flags from args.
func parseConfig(args []string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("reloc", flag.ContinueOnError)
	fs.IntVar(&cfg.Mode, "mode", env.Int("RELOC_MODE", 64), "processor mode, 32 or 64")
	src := fs.String("src", env.Str("RELOC_SRC", "0x7ff600001000"), "address the code is located at")
	dst := fs.String("dst", env.Str("RELOC_DST", "0x7ff600101000"), "address of the trampoline")
	fs.IntVar(&cfg.Min, "min", env.Int("RELOC_MIN", trampoline.NearJumpSize), "bytes the hook overwrites before rounding")
	fs.BoolVar(&cfg.Verbose, "v", env.Bool("RELOC_VERBOSE"), "log relocation decisions")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.Mode != 32 && cfg.Mode != 64 {
		return cfg, errors.Errorf("mode must be 32 or 64, not %d", cfg.Mode)
	}
	var err error
	if cfg.Src, err = parseAddr(*src); err != nil {
		return cfg, err
	}
	if cfg.Dst, err = parseAddr(*dst); err != nil {
		return cfg, err
	}
	if fs.NArg() == 0 {
		return cfg, errors.New("no code given")
	}
	cfg.Code, err = parseHex(fs.Args())
	return cfg, err
}

func listing(w io.Writer, insts []trampoline.Instruction, code trampoline.Region) {
	for _, ins := range insts {
		off := int(ins.Addr - code.Addr)
		fmt.Fprintf(w, "  %#x\t%-24s\t%s\n", ins.Addr, hex.EncodeToString(code.Code[off:off+ins.Len]), ins.Text)
	}
}

func run(w io.Writer, cfg config) error {
	var opts []trampoline.Option
	if cfg.Verbose {
		opts = append(opts, trampoline.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}
	r := trampoline.NewRelocator(trampoline.Mode(cfg.Mode), opts...)
	entry := trampoline.Region{Addr: cfg.Src, Code: cfg.Code}

	size, err := r.RoundToInstructionBoundary(entry, cfg.Min)
	if err != nil {
		return errors.Wrap(err, "failed to round entry point")
	}
	if size >= trampoline.MaxEntryPointSize {
		return errors.Errorf("entry point of %d bytes is too large to relocate", size)
	}

	insts, err := r.Disassemble(trampoline.Region{Addr: entry.Addr, Code: entry.Code[:size]})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "entry point (%v) at %#x, %d bytes rounded to %d:\n", r.Mode(), entry.Addr, cfg.Min, size)
	listing(w, insts, entry)

	dst := trampoline.Region{Addr: cfg.Dst, Code: make([]byte, trampoline.MaxSize)}
	n, err := r.RelocateEntryPoint(entry, size, dst)
	if err != nil {
		return errors.Wrap(err, "failed to relocate entry point")
	}
	dst.Code = dst.Code[:n]

	insts, err = r.Disassemble(dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "trampoline at %#x, %d bytes:\n", dst.Addr, n)
	listing(w, insts, dst)
	return nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, "reloc:", err)
		os.Exit(2)
	}
	if err := run(os.Stdout, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "reloc:", err)
		os.Exit(1)
	}
}
