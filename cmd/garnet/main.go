package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"garnet/internal/compaction"
	"garnet/internal/config"
	"garnet/internal/db"
)

const defaultDataDir = "garnet-data"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad log level: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	opts := []db.Option{db.WithLogger(logger)}
	if cfg.FlushThresholdBytes > 0 {
		opts = append(opts, db.WithFlushThresholdBytes(cfg.FlushThresholdBytes))
	}
	if cfg.MaxLevels > 0 {
		opts = append(opts, db.WithMaxLevels(cfg.MaxLevels))
	}
	if cfg.CompactionPolicy == "size-tiered" {
		opts = append(opts, db.WithCompactionPolicy(compaction.DefaultSizeTieredPolicy()))
	}

	engine, err := db.Open(cfg.DataDir, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Println("garnet - log-structured ordered map")
	fmt.Printf("data dir: %s\n", cfg.DataDir)
	fmt.Println("commands: put <key> <value> | get <key> | delete <key> | range [lo] [hi] |")
	fmt.Println("          seed <x> | flush | compact | stats | clear | inspect <file> | exit")

	seedIndex := loadSeedIndex(engine)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		switch strings.ToLower(parts[0]) {
		case "put":
			if len(parts) != 3 {
				fmt.Println("usage: put <key> <value>")
				continue
			}
			if err := engine.Put([]byte(parts[1]), []byte(parts[2])); err != nil {
				fmt.Printf("put error: %v\n", err)
				continue
			}
			fmt.Println("ok")
		case "get":
			if len(parts) != 2 {
				fmt.Println("usage: get <key>")
				continue
			}
			value, err := engine.Get([]byte(parts[1]))
			if err != nil {
				fmt.Printf("get error: %v\n", err)
				continue
			}
			fmt.Printf("%s\n", string(value))
		case "delete":
			if len(parts) != 2 {
				fmt.Println("usage: delete <key>")
				continue
			}
			if err := engine.Delete([]byte(parts[1])); err != nil {
				fmt.Printf("delete error: %v\n", err)
				continue
			}
			fmt.Println("ok")
		case "range":
			var lo, hi []byte
			if len(parts) > 1 {
				lo = []byte(parts[1])
			}
			if len(parts) > 2 {
				hi = []byte(parts[2])
			}
			dumpRange(engine, lo, hi)
		case "seed":
			if len(parts) != 2 {
				fmt.Println("usage: seed <x>")
				continue
			}
			x, err := strconv.Atoi(parts[1])
			if err != nil || x < 1 {
				fmt.Println("seed: x must be a positive integer")
				continue
			}
			runSeed(engine, x, &seedIndex)
		case "flush":
			if err := engine.Flush(); err != nil {
				fmt.Printf("flush error: %v\n", err)
				continue
			}
			fmt.Println("ok")
		case "compact":
			cycles := 0
			for {
				ran, err := engine.Compact()
				if err != nil {
					fmt.Printf("compact error: %v\n", err)
					break
				}
				if !ran {
					break
				}
				cycles++
			}
			fmt.Printf("ran %d cycle(s)\n", cycles)
		case "stats":
			printStats(engine)
		case "clear":
			if err := engine.Clear(); err != nil {
				fmt.Printf("clear error: %v\n", err)
				continue
			}
			seedIndex = 0
			fmt.Println("ok")
		case "inspect":
			if len(parts) != 2 {
				fmt.Println("usage: inspect <file.log|file.sst|MANIFEST>")
				continue
			}
			inspectFile(parts[1])
		case "exit", "quit":
			return
		default:
			fmt.Println("unknown command")
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "input error: %v\n", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = parsed
	}
	return cfg.Build()
}

func printStats(engine *db.DB) {
	v := engine.Manifest().Current()
	fmt.Printf("last_seq=%d current_wal=%d len_hint=%d\n", v.LastSeq, v.CurrentWAL, engine.LenHint())
	for level, files := range v.Levels {
		var size uint64
		for _, fm := range files {
			size += fm.Size
		}
		fmt.Printf("L%d: %d segment(s), %d bytes\n", level, len(files), size)
	}

	min, err := engine.Min()
	if err != nil || min == nil {
		return
	}
	max, _ := engine.Max()
	fmt.Printf("key range: [%s, %s]\n", string(min), string(max))
}
