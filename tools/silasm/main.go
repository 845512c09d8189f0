// silasm assembles .sil sources in batch.
// Output per file: <name>.silc (loadable image) and, with -raw, the bare
// sections <name>.bin (code) and <name>.dat (data, only when present) for
// loaders that map them directly at fixed addresses.
//
// Usage: go run ./tools/silasm -o build examples/*.sil
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/psilLang/sil/pkg/micro"
)

func main() {
	outDir := flag.String("o", "build", "Output directory")
	disasm := flag.Bool("disasm", false, "Print disassembly")
	raw := flag.Bool("raw", false, "Also write raw code and data sections")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: silasm [-o outdir] [-raw] [-disasm] <file.sil>...")
		os.Exit(1)
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	failed := 0
	for _, path := range flag.Args() {
		if err := compileFile(path, *outDir, *raw, *disasm); err != nil {
			fmt.Fprintf(os.Stderr, "Error compiling %s: %v\n", path, err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func compileFile(path, outDir string, raw, showDisasm bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	baseName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	asm := micro.NewAssembler()
	p, err := asm.AssembleFile(path, string(data))
	for _, d := range asm.Diagnostics() {
		if d.Severity == micro.SeverityWarning {
			fmt.Fprintln(os.Stderr, d)
		}
	}
	if err != nil {
		return err
	}

	if showDisasm {
		fmt.Printf("=== %s: %s, %d code bytes, %d data bytes ===\n", baseName, p.Mode, len(p.Code), len(p.Data))
		fmt.Print(micro.Disassemble(p.Code))
		fmt.Printf("Hex: % X\n", p.Code)
	}

	image, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	imagePath := filepath.Join(outDir, baseName+".silc")
	if err := os.WriteFile(imagePath, image, 0644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	fmt.Printf("%s: %d bytes -> %s\n", baseName, len(image), imagePath)

	if !raw {
		return nil
	}
	codePath := filepath.Join(outDir, baseName+".bin")
	if err := os.WriteFile(codePath, p.Code, 0644); err != nil {
		return fmt.Errorf("write code: %w", err)
	}
	fmt.Printf("%s: %d code bytes -> %s (entry 0x%04X)\n", baseName, len(p.Code), codePath, p.Entry)
	if len(p.Data) > 0 {
		dataPath := filepath.Join(outDir, baseName+".dat")
		if err := os.WriteFile(dataPath, p.Data, 0644); err != nil {
			return fmt.Errorf("write data: %w", err)
		}
		fmt.Printf("%s: %d data bytes -> %s\n", baseName, len(p.Data), dataPath)
	}
	return nil
}
