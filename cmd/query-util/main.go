// Command query-util searches a log store directory offline. It opens the
// data segments read-only, so it can run next to a live server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/INLOpen/nexuslog/codec"
	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/query"
	"github.com/INLOpen/nexuslog/segment"
)

func main() {
	dir := flag.String("dir", "./logs/api", "Base directory of the log store.")
	from := flag.String("from", "", "Start of the window (RFC 3339, 'yyyy-MM-dd HH:mm:ss' or unix ms).")
	to := flag.String("to", "", "End of the window. Defaults to now.")
	path := flag.String("path", "", "Only records whose path contains this string.")
	status := flag.Int("status", 0, "Only records with this status code.")
	errKeyword := flag.String("error", "", "Only records whose exception message contains this string.")
	expr := flag.String("expr", "", "CEL filter expression, e.g. 'status >= 500 && executionTime > 200'.")
	codecName := flag.String("codec", "json", "Record codec the store was written with (json or proto).")
	compression := flag.String("compression", "none", "Record compression the store was written with.")
	workers := flag.Int("workers", query.DefaultWorkers, "Number of files scanned in parallel.")
	page := flag.Int("page", 1, "Page to print.")
	size := flag.Int("size", 20, "Records per page.")
	verbose := flag.Bool("v", false, "Log scan progress to stderr.")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ct, err := core.ParseCompressionType(*compression)
	if err != nil {
		fatal(logger, "Invalid -compression", err)
	}
	c, err := codec.New(*codecName, ct)
	if err != nil {
		fatal(logger, "Invalid -codec", err)
	}

	req := query.Request{
		Path:         *path,
		StatusCode:   *status,
		ErrorKeyword: *errKeyword,
		Expr:         *expr,
		Page:         *page,
		PageSize:     *size,
	}
	if *from != "" {
		if req.StartTime, err = query.ParseTime(*from); err != nil {
			fatal(logger, "Invalid -from", err)
		}
	}
	if *to != "" {
		if req.EndTime, err = query.ParseTime(*to); err != nil {
			fatal(logger, "Invalid -to", err)
		}
	}

	engine, err := query.NewEngine(query.Options{Codec: c, Workers: *workers, Logger: logger})
	if err != nil {
		fatal(logger, "Failed to create query engine", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := engine.Search(ctx, filepath.Join(*dir, segment.DataDirName), req, *size)
	if err != nil {
		fatal(logger, "Search failed", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fatal(logger, "Failed to write result", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
