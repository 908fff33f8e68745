package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/echotools/vrcompanion/server"
	"go.uber.org/zap"
)

var (
	flagDB    = flag.String("db", "file:vrcompanion.db", "Feed store URI")
	flagShape = flag.String("shape", "log", "Feed shape: log | api | notification | friendlog | moderation")
	flagLimit = flag.Int("n", 20, "Number of entries")
)

var logger = log.New(os.Stdout, "[feedtail] ", log.LstdFlags|log.Lmsgprefix)

func main() {
	flag.Parse()

	store, err := server.NewFeedStore(zap.NewNop(), *flagDB)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer store.Close()

	entries, err := store.Recent(server.FeedShape(*flagShape), *flagLimit)
	if err != nil {
		logger.Fatalf("query: %v", err)
	}
	for _, entry := range entries {
		fmt.Printf("%s  %-16s %-24s %s\n",
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
			entry.Type, entry.DisplayName, entry.Message)
	}
}
