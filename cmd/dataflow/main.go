// Command dataflow prints the raw material each analyst would receive for a
// ticker, without calling any model.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/internal/dataflows"
	"github.com/dyike/cortexdesk/internal/logging"
)

func main() {
	symbol := flag.String("symbol", "AAPL", "ticker to fetch")
	date := flag.String("date", time.Now().Format("2006-01-02"), "as-of date (YYYY-MM-DD)")
	analysts := flag.String("analysts", "market,sentiment,news,fundamentals", "comma separated analyst kinds")
	flag.Parse()

	cfg := config.DefaultConfig()
	logger := logging.NewWriterLogger(os.Stderr, cfg.LogLevel)

	asOf, err := time.Parse("2006-01-02", *date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid date: %v\n", err)
		os.Exit(2)
	}
	kinds, err := config.ParseAnalystKinds(strings.Split(*analysts, ","))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx := context.Background()
	toolkit := dataflows.NewToolkit(*cfg, logger)
	ticker := dataflows.NormalizeSymbol(*symbol)
	for _, kind := range kinds {
		raw, err := toolkit.Fetch(ctx, kind, ticker, asOf)
		if err != nil {
			logger.Warn("fetch failed", "kind", kind, "error", err)
			continue
		}
		payload, _ := json.MarshalIndent(raw, "", "  ")
		fmt.Println(string(payload))
	}
}
