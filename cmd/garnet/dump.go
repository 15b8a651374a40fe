package main

import (
	"fmt"

	"garnet/internal/common"
	"garnet/internal/db"
)

func dumpRange(engine *db.DB, lo, hi []byte) {
	it, err := engine.Range(lo, hi)
	if err != nil {
		fmt.Printf("range error: %v\n", err)
		return
	}
	defer it.Close()

	count := 0
	for {
		key, value, err := it.Next()
		if err != nil {
			fmt.Printf("error reading entry: %v\n", err)
			return
		}
		if key == nil {
			break
		}
		count++
		fmt.Printf("%-24s %s\n", truncate(string(key), 24), string(value))
	}
	fmt.Printf("%d live key(s)\n", count)
}

func dumpEntries(iter common.EntryIterator) {
	fmt.Printf("%-6s %-24s %10s  %s\n", "OP", "KEY", "SEQ", "VALUE")

	count := 0
	for {
		entry, err := iter.Next()
		if err != nil {
			fmt.Printf("error reading entry: %v\n", err)
			return
		}
		if entry == nil {
			break
		}
		count++

		if entry.Type == common.EntryTypeDelete {
			fmt.Printf("%-6s %-24s %10d\n", "DEL", truncate(string(entry.Key), 24), entry.Seq)
			continue
		}
		fmt.Printf("%-6s %-24s %10d  %s\n", "PUT", truncate(string(entry.Key), 24), entry.Seq, string(entry.Value))
	}
	fmt.Printf("\nTotal entries: %d\n", count)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
