package download

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog describes the downloadable artifacts of every known engine.
type Catalog struct {
	Engines []EngineCatalog `yaml:"engines"`
}

// EngineCatalog lists one engine's cores and voices.
type EngineCatalog struct {
	ID     string      `yaml:"id"`
	Name   string      `yaml:"name"`
	Cores  []CoreSpec  `yaml:"cores"`
	Voices []VoiceSpec `yaml:"voices"`
}

// CoreSpec describes one shared model artifact.
type CoreSpec struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	SizeBytes int64  `yaml:"size_bytes"`
	SHA256    string `yaml:"sha256,omitempty"`
}

// VoiceSpec describes a voice and the cores it requires.
type VoiceSpec struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Language      string   `yaml:"language"`
	RequiredCores []string `yaml:"required_cores"`
}

// LoadCatalog reads and validates a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates YAML catalog data.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks referential integrity: every core ID referenced by a
// voice must exist within the same engine, and IDs must be unique
// across the catalog.
func (c *Catalog) Validate() error {
	seenCores := make(map[string]bool)
	seenVoices := make(map[string]bool)
	for _, eng := range c.Engines {
		if eng.ID == "" {
			return fmt.Errorf("catalog: engine with empty id")
		}
		engineCores := make(map[string]bool, len(eng.Cores))
		for _, core := range eng.Cores {
			if core.ID == "" {
				return fmt.Errorf("catalog: engine %q has core with empty id", eng.ID)
			}
			if seenCores[core.ID] {
				return fmt.Errorf("catalog: duplicate core id %q", core.ID)
			}
			seenCores[core.ID] = true
			engineCores[core.ID] = true
		}
		for _, voice := range eng.Voices {
			if voice.ID == "" {
				return fmt.Errorf("catalog: engine %q has voice with empty id", eng.ID)
			}
			if seenVoices[voice.ID] {
				return fmt.Errorf("catalog: duplicate voice id %q", voice.ID)
			}
			seenVoices[voice.ID] = true
			if len(voice.RequiredCores) == 0 {
				return fmt.Errorf("catalog: voice %q requires no cores", voice.ID)
			}
			for _, coreID := range voice.RequiredCores {
				if !engineCores[coreID] {
					return fmt.Errorf("catalog: voice %q references unknown core %q", voice.ID, coreID)
				}
			}
		}
	}
	return nil
}

// CoreByID returns the spec for a core, if present.
func (c *Catalog) CoreByID(coreID string) (CoreSpec, string, bool) {
	for _, eng := range c.Engines {
		for _, core := range eng.Cores {
			if core.ID == coreID {
				return core, eng.ID, true
			}
		}
	}
	return CoreSpec{}, "", false
}

// VoiceByID returns the spec for a voice, if present.
func (c *Catalog) VoiceByID(voiceID string) (VoiceSpec, string, bool) {
	for _, eng := range c.Engines {
		for _, voice := range eng.Voices {
			if voice.ID == voiceID {
				return voice, eng.ID, true
			}
		}
	}
	return VoiceSpec{}, "", false
}
