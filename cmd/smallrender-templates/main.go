package main

import (
	"flag"
	"log"
	"os"

	"github.com/smallrender/core/pkg/bootstrap"
)

var syncRoot = flag.String("sync-root", "", "path to the shared farm directory")

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("SmallRender Template Resync Tool")
	log.Println("=================================")

	if *syncRoot == "" {
		log.Fatal("-sync-root is required")
	}

	info, err := os.Stat(*syncRoot)
	if err != nil {
		log.Fatalf("sync root not usable: %v", err)
	}
	if !info.IsDir() {
		log.Fatalf("sync root %q is not a directory", *syncRoot)
	}

	log.Printf("Sync root: %s", *syncRoot)
	if err := bootstrap.ResyncExamples(*syncRoot); err != nil {
		log.Fatalf("resync failed: %v", err)
	}

	log.Println("✓ Bundled example templates resynced into templates/examples/")
}
