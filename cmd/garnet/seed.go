package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"garnet/internal/db"
)

const seedIndexKey = "__cli_seed_index__"

func loadSeedIndex(engine *db.DB) int {
	if val, err := engine.Get([]byte(seedIndexKey)); err == nil {
		if idx, err := strconv.Atoi(string(val)); err == nil {
			fmt.Printf("resumed seed index from %d\n", idx)
			return idx
		}
	}
	return 0
}

var kvPairs = [][2]string{
	{"agate", "amber"},
	{"beryl", "bronzite"},
	{"citrine", "coral"},
	{"diamond", "diopside"},
	{"emerald", "euclase"},
	{"fluorite", "feldspar"},
	{"garnet", "goshenite"},
	{"heliodor", "hematite"},
	{"iolite", "ivory"},
	{"jade", "jasper"},
	{"kunzite", "kyanite"},
	{"lapis", "larimar"},
	{"moonstone", "malachite"},
	{"nephrite", "nuummite"},
	{"opal", "onyx"},
	{"peridot", "pyrite"},
	{"quartz", "quartzite"},
	{"ruby", "rhodonite"},
	{"sapphire", "sunstone"},
	{"topaz", "tourmaline"},
	{"unakite", "ulexite"},
	{"variscite", "vesuvianite"},
	{"wulfenite", "wavellite"},
	{"xenotime", "xonotlite"},
	{"yttrium", "yugawaralite"},
	{"zircon", "zoisite"},
}

func runSeed(engine *db.DB, x int, seedIndex *int) {
	start := time.Now()
	count := 0
	startIndex := *seedIndex

	// Shuffle so inserts are not in key order.
	shuffled := make([][2]string, len(kvPairs))
	copy(shuffled, kvPairs)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	for i := 0; i < x; i++ {
		for _, pair := range shuffled {
			key := fmt.Sprintf("%s%d", pair[0], *seedIndex)
			value := fmt.Sprintf("%s%d", pair[1], *seedIndex)
			if err := engine.Put([]byte(key), []byte(value)); err != nil {
				fmt.Printf("seed error: %v\n", err)
				continue
			}
			count++
		}
		*seedIndex++
	}

	if err := engine.Put([]byte(seedIndexKey), []byte(fmt.Sprint(*seedIndex))); err != nil {
		fmt.Printf("warning: failed to persist seed index: %v\n", err)
	}

	elapsed := time.Since(start)
	fmt.Printf("seeded %d entries (26 * %d, index %d-%d) in %v - %v/entry\n",
		count, x, startIndex, *seedIndex-1, elapsed, elapsed/time.Duration(count))
}
