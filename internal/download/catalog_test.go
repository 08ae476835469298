package download

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseCatalog(t *testing.T) {
	catalog, err := ParseCatalog([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if len(catalog.Engines) != 1 {
		t.Fatalf("Expected 1 engine, got %d", len(catalog.Engines))
	}
	eng := catalog.Engines[0]
	if eng.ID != "supertonic" || len(eng.Cores) != 3 || len(eng.Voices) != 2 {
		t.Errorf("Unexpected engine contents: %+v", eng)
	}

	core, engineID, ok := catalog.CoreByID("st-core")
	if !ok || engineID != "supertonic" || core.SizeBytes != 64 {
		t.Errorf("CoreByID: got %+v / %s / %v", core, engineID, ok)
	}
	voice, _, ok := catalog.VoiceByID("st-f1")
	if !ok || len(voice.RequiredCores) != 2 {
		t.Errorf("VoiceByID: got %+v / %v", voice, ok)
	}
	if _, _, ok := catalog.VoiceByID("nope"); ok {
		t.Error("Expected unknown voice lookup to fail")
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yml")
	if err := os.WriteFile(path, []byte(testCatalogYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(catalog.Engines) != 1 {
		t.Errorf("Expected 1 engine, got %d", len(catalog.Engines))
	}

	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestCatalogValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			"unknown core reference",
			`
engines:
  - id: e1
    cores:
      - {id: c1, url: "https://x/c1"}
    voices:
      - {id: v1, required_cores: [c-missing]}
`,
		},
		{
			"duplicate core id",
			`
engines:
  - id: e1
    cores:
      - {id: c1, url: "https://x/c1"}
      - {id: c1, url: "https://x/c1b"}
`,
		},
		{
			"voice without cores",
			`
engines:
  - id: e1
    cores:
      - {id: c1, url: "https://x/c1"}
    voices:
      - {id: v1, required_cores: []}
`,
		},
		{
			"empty engine id",
			`
engines:
  - id: ""
`,
		},
		{
			"duplicate voice id",
			`
engines:
  - id: e1
    cores:
      - {id: c1, url: "https://x/c1"}
    voices:
      - {id: v1, required_cores: [c1]}
      - {id: v1, required_cores: [c1]}
`,
		},
	}
	for _, c := range cases {
		if _, err := ParseCatalog([]byte(c.yaml)); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}
