package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalogOrder(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	names := c.Names()
	if len(names) != 20 {
		t.Fatalf("len = %d, want 20", len(names))
	}
	if names[0] != "Azathioprine" || names[10] != "Ibuprofen" || names[19] != "Tramadol" {
		t.Errorf("unexpected order: %v", names)
	}

	m, ok := c.Lookup("ibuprofen")
	if !ok || m.Class == "" || m.Indication == "" {
		t.Errorf("Lookup(ibuprofen) = %+v, %v", m, ok)
	}
	if _, ok := c.Lookup("Aspirin"); ok {
		t.Error("unknown medicine found")
	}
}

func TestLoadLabelsDefaultsToCatalog(t *testing.T) {
	c, _ := Default()
	ls, err := LoadLabels("", c)
	if err != nil {
		t.Fatalf("LoadLabels: %v", err)
	}
	if ls.Len() != 20 || ls.Name(5) != "Dobutamine" {
		t.Errorf("labels = %v", ls.Names())
	}
}

func TestLoadLabelsFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	c, _ := Default()

	tests := []struct {
		name string
		path string
		want []string
	}{
		{"text", write("labels.txt", "# classes\nAspirin\n\nParacetamol\n"), []string{"Aspirin", "Paracetamol"}},
		{"yaml list", write("list.yaml", "- Aspirin\n- Paracetamol\n"), []string{"Aspirin", "Paracetamol"}},
		{"yaml key", write("wrapped.yml", "labels:\n  - A\n  - B\n  - C\n"), []string{"A", "B", "C"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ls, err := LoadLabels(tc.path, c)
			if err != nil {
				t.Fatalf("LoadLabels: %v", err)
			}
			got := ls.Names()
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}

	if _, err := LoadLabels(write("dup.txt", "A\nA\n"), c); err == nil {
		t.Error("duplicate labels should be rejected")
	}
}

func TestLoadCatalogFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cat.yaml")
	content := "medicines:\n  - name: Aspirin\n    class: NSAID\n  - name: aspirin\n"
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err == nil {
		t.Error("case-insensitive duplicate should be rejected")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
