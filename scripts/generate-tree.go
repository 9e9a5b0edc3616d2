//go:build ignore

// Package main generates a synthetic directory tree for indexing benchmarks.
// Usage: go run scripts/generate-tree.go -files 10000 -output testdata/tree
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of files to generate")
	maxDepth  = flag.Int("depth", 4, "Maximum directory depth")
	fanout    = flag.Int("fanout", 8, "Subdirectories per directory")
	maxSize   = flag.Int("max-size", 64<<10, "Maximum file size in bytes")
	outputDir = flag.String("output", "testdata/tree", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var extensions = []string{
	".pdf", ".txt", ".md", ".jpg", ".png", ".go", ".json", ".xml",
	".log", ".csv", ".html", ".zip", ".mp3", "",
}

var words = []string{
	"report", "invoice", "notes", "draft", "final", "backup", "photo",
	"summary", "budget", "plan", "meeting", "archive", "scan", "export",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	dirs := []string{*outputDir}
	level := []string{*outputDir}
	for depth := 1; depth <= *maxDepth && len(dirs) <= *numFiles/4; depth++ {
		var next []string
		for _, parent := range level {
			n := rng.Intn(*fanout) + 1
			for i := 0; i < n; i++ {
				next = append(next, filepath.Join(parent, fmt.Sprintf("%s-%d", pick(rng, words), i)))
			}
		}
		dirs = append(dirs, next...)
		level = next
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "mkdir %s: %v\n", dir, err)
			os.Exit(1)
		}
	}

	buf := make([]byte, *maxSize)
	var total int64
	for i := 0; i < *numFiles; i++ {
		dir := dirs[rng.Intn(len(dirs))]
		name := fmt.Sprintf("%s_%s_%05d%s", pick(rng, words), pick(rng, words), i, pick(rng, extensions))
		if rng.Intn(20) == 0 {
			name = "." + name
		}
		size := rng.Intn(*maxSize + 1)
		rng.Read(buf[:size])
		if err := os.WriteFile(filepath.Join(dir, name), buf[:size], 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
			os.Exit(1)
		}
		total += int64(size)
	}

	fmt.Printf("Generated %d files in %d directories (%d bytes) under %s\n",
		*numFiles, len(dirs), total, *outputDir)
}

func pick(rng *rand.Rand, from []string) string {
	return from[rng.Intn(len(from))]
}
