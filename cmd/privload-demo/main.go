//go:build windows

// Command privload-demo is a minimal host harness for the private loader:
// it wires the default Windows host interfaces, loads one library by path,
// reports where it landed, and unloads it again.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jizhongqing/privload/internal/hostiface"
	"github.com/jizhongqing/privload/loader"
)

func main() {
	clientDir := flag.String("libdir", "", "directory searched before system32/windows for dependency resolution")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: privload-demo [-libdir DIR] <path-to-dll>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	host := hostiface.NewDefault()
	ld := loader.New(loader.Config{
		VM:           host,
		Registry:     host,
		AddressOwner: host,
		FileExists:   host,
		Logger:       loader.NewStdLogger(log.Default()),
		ClientLibDirs: []string{
			*clientDir,
		},
	})

	if err := ld.Init(); err != nil {
		log.Fatalf("init: %v", err)
	}
	defer ld.Exit()

	base, err := ld.LoadPrivateLibrary(path)
	if err != nil {
		log.Fatalf("load %s: %v", path, err)
	}
	fmt.Printf("loaded %s at %#x (private: %v)\n", path, base, ld.InPrivateLibrary(base))

	if !ld.UnloadPrivateLibrary(base) {
		log.Fatalf("unload %s: not found", path)
	}
	fmt.Printf("unloaded %s\n", path)
}
