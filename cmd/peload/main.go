// cmd/peload is a small harness for pkg/pe, in the same spirit as
// meltloader/cmd/main.go: load a DLL from disk into memory (the image
// itself never round-trips back to the filesystem after this point),
// resolve an export and print its address, and unload.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/carved4/pemap/pkg/pe"
)

func main() {
	path := flag.String("dll", "", "path to a PE32+ DLL image to manually map")
	export := flag.String("export", "", "exported function name to resolve after load")
	verbose := flag.Bool("v", false, "trace each pipeline stage")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: peload -dll path/to.dll [-export Name] [-v]")
		os.Exit(2)
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("reading %s: %v", *path, err)
	}

	var opts []pe.Option
	if *verbose {
		opts = append(opts, pe.WithVerbose())
	}

	m, err := pe.Load(data, opts...)
	if err != nil {
		log.Fatalf("load failed: %v (last error: %v)", err, pe.LastError())
	}
	fmt.Printf("mapped %s at 0x%x (initialized=%v relocated=%v)\n", *path, m.Base(), m.Initialized(), m.Relocated())
	fmt.Printf("currently %d module(s) mapped in this process\n", pe.Count())

	if *export != "" {
		addr, err := m.Resolve(*export)
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve %s failed: %v\n", *export, err)
		} else {
			fmt.Printf("%s resolved to 0x%x\n", *export, addr)
		}
	}

	if err := m.Unload(); err != nil {
		log.Fatalf("unload failed: %v", err)
	}
	fmt.Println("unloaded")
}
