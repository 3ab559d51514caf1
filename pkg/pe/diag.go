package pe

import (
	"bytes"
	"log"

	bpe "github.com/Binject/debug/pe"
)

// dumpSections logs a one-line-per-section summary of the source image
// using Binject/debug/pe's section table, the same parser bindImports uses
// for the import directory. Verbose-only diagnostic, never on the hot path.
func dumpSections(raw []byte) {
	pf, err := bpe.NewFile(bytes.NewReader(raw))
	if err != nil {
		log.Printf("[pe] section dump unavailable: %v", err)
		return
	}
	for _, sec := range pf.Sections {
		log.Printf("[pe] section %-8s va=0x%x size=0x%x characteristics=0x%x", sec.Name, sec.VirtualAddress, sec.Size, sec.Characteristics)
	}
}
