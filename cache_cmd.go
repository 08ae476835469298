package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the audio cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show audio cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := buildPipeline(false)
		if err != nil {
			return err
		}
		defer p.Close()

		m := p.cache.Metrics()
		fmt.Printf("Entries:   %d\n", p.cache.Len())
		fmt.Printf("Size:      %s of %s\n",
			humanize.Bytes(uint64(p.cache.Size())), humanize.Bytes(uint64(p.cfg.CacheSizeLimit)))
		fmt.Printf("Hits:      %d\n", m.Hits())
		fmt.Printf("Misses:    %d\n", m.Misses())
		fmt.Printf("Writes:    %d\n", m.Writes())
		fmt.Printf("Evictions: %d\n", m.Evictions())
		fmt.Printf("Hit rate:  %.1f%%\n", m.HitRate()*100)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached audio artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := buildPipeline(false)
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.cache.Clear(); err != nil {
			return err
		}
		fmt.Println("Audio cache cleared.")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
}
