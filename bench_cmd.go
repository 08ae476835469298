package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/narrato/narrato/tts"
)

var benchCmd = &cobra.Command{
	Use:   "bench FILE",
	Short: "Measure cold synthesis speed over a chapter",
	Long: "Clears the audio cache, synthesizes every segment of FILE\n" +
		"sequentially, and reports per-segment timings, the real-time\n" +
		"factor, and the buffering a listener would experience.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _, err := readBook(args[0])
		if err != nil {
			return err
		}
		p, err := buildPipeline(true)
		if err != nil {
			return err
		}
		defer p.Close()

		rate := p.cfg.PlaybackRate
		result, err := tts.RunBenchmark(cmd.Context(), p.engine, p.segments, p.cache, p.cfg.Voice, text, rate)
		if err != nil {
			return err
		}
		printBenchResult(result)
		return nil
	},
}

func printBenchResult(r *tts.BenchResult) {
	fmt.Printf("Voice %s at %.2fx, %d segments\n\n", r.Voice, r.Rate, r.Segments)
	for i := range r.SynthTimes {
		marker := ""
		if r.Buffering.Waits[i] > 0 {
			marker = fmt.Sprintf("  stall %s", round(r.Buffering.Waits[i]))
		}
		fmt.Printf("  %3d  synth %-10s audio %-10s%s\n",
			i, round(r.SynthTimes[i]), round(r.AudioTimes[i]), marker)
	}
	fmt.Printf("\nTotal synthesis: %s\n", round(r.TotalSynthesis))
	fmt.Printf("Total audio:     %s\n", round(r.TotalAudio))
	fmt.Printf("RTF:             %.3f\n", r.RTF)
	fmt.Printf("Buffering:       %d stalls, %s total (%s before first segment)\n",
		r.Buffering.Events, round(r.Buffering.TotalWait), round(r.Buffering.InitialWait))
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
