package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/moviesnow/internal/formatter"
	"github.com/urfave/cli/v3"
)

type cacheRow struct {
	Key       string    `json:"key"`
	Stale     bool      `json:"stale"`
	Sequence  int       `json:"sequence"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheList lists cached entries without their values.
func (r *Runner) CacheList(ctx context.Context, cmd *cli.Command) error {
	entries, err := r.cache.Entries()
	if err != nil {
		return err
	}

	rows := make([]cacheRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, cacheRow{
			Key:       e.Key,
			Stale:     e.Stale,
			Sequence:  e.Sequence,
			Size:      len(e.Value),
			UpdatedAt: e.UpdatedAt,
		})
	}

	if r.format == formatter.FormatJSON {
		return r.write(rows)
	}
	if len(rows) == 0 {
		return r.writePlain("Cache is empty\n")
	}

	for _, row := range rows {
		state := "fresh"
		if row.Stale {
			state = "stale"
		}
		r.writePlain("%-22s %-5s seq=%d %dB %s\n", row.Key, state, row.Sequence, row.Size, row.UpdatedAt.Local().Format(time.DateTime))
	}
	return nil
}

// CacheClear drops every cached entry.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	n, err := r.cache.Clear()
	if err != nil {
		return err
	}
	r.logger.Info("cache cleared", "entries", n)
	return r.done(fmt.Sprintf("Cleared %d cached entries", n), map[string]int64{"cleared": n})
}
