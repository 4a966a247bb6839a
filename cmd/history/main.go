package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"camstream/internal/config"
	"camstream/internal/repository/sqlite"
)

func main() {
	cfg := config.Load()

	dbPath := flag.String("db", cfg.HistoryDB, "Session history database path")
	limit := flag.Int("limit", 20, "Number of recent sessions to list")
	prune := flag.Duration("prune", 0, "Delete sessions older than this (e.g. 720h)")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("No history database configured (set HISTORY_DB or -db)")
	}
	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	repo := sqlite.NewSessionRepository(db)

	if *prune > 0 {
		deleted, err := repo.DeleteOlderThan(time.Now().Add(-*prune))
		if err != nil {
			log.Fatalf("Failed to prune sessions: %v", err)
		}
		fmt.Printf("Deleted %d sessions older than %v\n\n", deleted, *prune)
	}

	sessions, err := repo.GetRecent(*limit)
	if err != nil {
		log.Fatalf("Failed to read sessions: %v", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tDURATION\tTRANSPORT\tREMOTE\tFRAMES\tSKIPPED\tBYTES\tEND")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%v\t%s\t%s\t%d\t%d\t%d\t%s\n",
				s.StartedAt.Local().Format("2006-01-02 15:04:05"), s.Duration().Round(time.Second),
				s.Transport, s.RemoteAddr, s.FramesSent, s.FramesSkipped, s.BytesSent, s.EndReason)
		}
		w.Flush()
	}

	stats, err := repo.GetStats()
	if err != nil {
		log.Fatalf("Failed to read statistics: %v", err)
	}

	fmt.Printf("\nDatabase Statistics:\n")
	fmt.Printf("   Total sessions: %d\n", stats.TotalSessions)
	fmt.Printf("   Total frames: %d\n", stats.TotalFrames)
	fmt.Printf("   Total size: %d bytes\n", stats.TotalBytes)
	printCounts("Per transport", stats.PerTransport)
	printCounts("Per end reason", stats.PerEndReason)
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("   %s:\n", title)
	for _, k := range keys {
		fmt.Printf("      - %s: %d\n", k, counts[k])
	}
}
