package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/narrato/narrato/internal/download"
	"github.com/narrato/narrato/tts"
)

// defaultCatalogYAML is the built-in artifact catalog, used when no
// catalog file is installed.
const defaultCatalogYAML = `
engines:
  - id: supertonic
    name: Supertonic
    cores:
      - id: st-core
        name: Supertonic shared model
        url: https://models.narrato.dev/supertonic/st-core-v1.onnx
        size_bytes: 247463936
      - id: st-f1-model
        name: Female voice 1 embedding
        url: https://models.narrato.dev/supertonic/st-f1-v1.bin
        size_bytes: 8388608
      - id: st-m1-model
        name: Male voice 1 embedding
        url: https://models.narrato.dev/supertonic/st-m1-v1.bin
        size_bytes: 8388608
    voices:
      - id: st-f1
        name: Supertonic Female 1
        language: en-US
        required_cores: [st-core, st-f1-model]
      - id: st-m1
        name: Supertonic Male 1
        language: en-US
        required_cores: [st-core, st-m1-model]
`

var downloadAll bool

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List voices and their download state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := buildPipeline(false)
		if err != nil {
			return err
		}
		defer p.Close()

		cores := p.manager.CoreStates()
		for _, v := range p.manager.VoiceStates() {
			status := "not downloaded"
			if v.Ready {
				status = "ready"
			} else {
				for _, coreID := range v.RequiredCoreIDs {
					if c, ok := cores[coreID]; ok && c.Status.InFlight() {
						status = fmt.Sprintf("downloading (%.0f%%)", c.Progress*100)
						break
					}
				}
			}
			fmt.Printf("%-10s %-24s %-6s [%s]  %s\n",
				v.VoiceID, v.DisplayName, v.Language, v.EngineID, status)
		}

		total := p.manager.TotalInstalledSize()
		fmt.Printf("\nInstalled: %s\n", humanize.Bytes(uint64(total)))
		if _, err := p.manager.VerifyInstalledSize(); err != nil {
			if errors.Is(err, tts.ErrStorageMismatch) {
				fmt.Println("Storage accounting was reconciled against disk.")
				return nil
			}
			return err
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download [VOICE]",
	Short: "Download the model artifacts for a voice",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !downloadAll && len(args) == 0 {
			return errors.New("specify a voice ID or --all")
		}
		p, err := buildPipeline(false)
		if err != nil {
			return err
		}
		defer p.Close()

		events := p.manager.Subscribe()
		if downloadAll {
			err = p.manager.DownloadAllForEngine(p.cfg.Engine)
		} else {
			err = p.manager.DownloadVoice(args[0])
		}
		if err != nil {
			return err
		}
		return watchDownloads(p.manager, events)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [CORE]",
	Short: "Delete downloaded model artifacts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !downloadAll && len(args) == 0 {
			return errors.New("specify a core ID or --all")
		}
		p, err := buildPipeline(false)
		if err != nil {
			return err
		}
		defer p.Close()

		if downloadAll {
			if err := p.manager.DeleteAll(); err != nil {
				return err
			}
			fmt.Println("All model artifacts deleted.")
			return nil
		}
		if err := p.manager.DeleteCore(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s.\n", args[0])
		return nil
	},
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadAll, "all", false, "download every core of the configured engine")
	deleteCmd.Flags().BoolVar(&downloadAll, "all", false, "delete every installed core")
}

// watchDownloads prints progress events until nothing is in flight.
func watchDownloads(m *download.Manager, events <-chan download.Event) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	lastLine := ""
	for {
		select {
		case ev := <-events:
			line := fmt.Sprintf("%s: %s", ev.CoreID, ev.Status)
			if ev.Status == download.StatusDownloading {
				line = fmt.Sprintf("%s: %3.0f%%", ev.CoreID, ev.Progress*100)
			}
			if line != lastLine {
				fmt.Println(line)
				lastLine = line
			}
		case <-ticker.C:
		}

		inFlight := false
		var failed []string
		for id, c := range m.CoreStates() {
			if c.Status.InFlight() || c.Status == download.StatusQueued {
				inFlight = true
			}
			if c.Status == download.StatusFailed {
				failed = append(failed, id)
			}
		}
		if !inFlight {
			if len(failed) > 0 {
				return fmt.Errorf("download failed for: %s", strings.Join(failed, ", "))
			}
			fmt.Println("Done.")
			return nil
		}
	}
}
