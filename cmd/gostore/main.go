package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/AmrMurad1/gostore"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	db, err := gostore.Open("./data", func(o *gostore.Options) {
		o.Logger = logger
		o.MaxRunBytes = 64 << 10
	})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer db.Close()

	for i := range 1024 {
		value := bytes.Repeat([]byte("s"), i+1)
		if err := db.Put(gostore.Key(i), value); err != nil {
			fmt.Println("put failed:", err)
			return
		}
	}

	if err := db.Put(7, []byte("seven")); err != nil {
		fmt.Println("put failed:", err)
		return
	}
	val, found, err := db.Get(7)
	switch {
	case err != nil:
		fmt.Println("Error:", err)
	case found:
		fmt.Println("7:", string(val))
	}

	existed, err := db.Delete(42)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	_, found, _ = db.Get(42)
	fmt.Printf("42 deleted: %v, still found: %v\n", existed, found)

	stats, err := db.Stats()
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	for _, level := range stats.Levels {
		fmt.Printf("level %d: %d/%d runs\n", level.Tier, len(level.Runs), level.Capacity)
	}
}
