package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"garnet/internal/common"
	"garnet/internal/manifest"
	"garnet/internal/sstable"
	"garnet/internal/wal"
)

func inspectFile(path string) {
	switch {
	case strings.HasSuffix(path, ".log"):
		inspectWAL(path)
	case strings.HasSuffix(path, ".sst"):
		inspectSSTable(path)
	case filepath.Base(path) == "MANIFEST":
		inspectManifest(path)
	default:
		fmt.Printf("unknown file type: %s (expected .log, .sst or MANIFEST)\n", path)
	}
}

func inspectWAL(path string) {
	fmt.Printf("Inspecting WAL: %s\n\n", path)

	w, err := wal.Open(path)
	if err != nil {
		fmt.Printf("failed to open WAL: %v\n", err)
		return
	}
	defer w.Close()

	iter, err := w.Iterator(context.Background())
	if err != nil {
		fmt.Printf("failed to create iterator: %v\n", err)
		return
	}
	defer iter.Close()

	dumpEntries(iter)
}

func inspectSSTable(path string) {
	fmt.Printf("Inspecting segment: %s\n\n", path)

	filename := filepath.Base(path)
	var fileNo common.FileNo
	if _, err := fmt.Sscanf(strings.TrimSuffix(filename, ".sst"), "%d", &fileNo); err != nil {
		fmt.Printf("failed to parse file number from %s: %v\n", filename, err)
		return
	}

	table, err := sstable.Open(path, fileNo)
	if err != nil {
		fmt.Printf("failed to open segment: %v\n", err)
		return
	}
	defer table.Close()

	smallest, largest := table.Bounds()
	fmt.Printf("entries: %d\n", table.Len())
	fmt.Printf("key range: [%s, %s]\n\n", string(smallest), string(largest))
	dumpEntries(table.Iterator())
}

func inspectManifest(path string) {
	fmt.Printf("Inspecting manifest: %s\n\n", path)

	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("failed to open manifest: %v\n", err)
		return
	}
	defer f.Close()

	v, err := manifest.ReadVersion(f)
	if err != nil {
		fmt.Printf("failed to parse manifest: %v\n", err)
		return
	}

	fmt.Printf("current_wal=%d last_seq=%d next_wal=%d next_sstable=%d\n",
		v.CurrentWAL, v.LastSeq, v.NextWALNumber, v.NextSSTableNumber)
	for level, files := range v.Levels {
		fmt.Printf("L%d:\n", level)
		for _, fm := range files {
			fmt.Printf("  %d.sst entries=%d size=%d range=[%s, %s]\n",
				fm.FileNo, fm.EntryCount, fm.Size, string(fm.SmallestKey), string(fm.LargestKey))
		}
	}
}
