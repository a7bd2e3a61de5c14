package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// E2ETestSpec is a single end-to-end test case.
type E2ETestSpec struct {
	Name      string   `yaml:"name"`
	Input     string   `yaml:"input"`
	Expect    []string `yaml:"expect"`     // Strings that must appear in output
	ExpectNot []string `yaml:"expect_not"` // Strings that must NOT appear in output
	Skip      string   `yaml:"skip,omitempty"`
}

// E2ETestFile is the testdata/e2e.yaml structure.
type E2ETestFile struct {
	Tests []E2ETestSpec `yaml:"tests"`
}

// TestEndToEnd runs each header snippet through the CLI and checks the YAML
// dump for expected content.
func TestEndToEnd(t *testing.T) {
	data, err := os.ReadFile("../../testdata/e2e.yaml")
	if err != nil {
		t.Fatalf("reading e2e.yaml: %v", err)
	}

	var file E2ETestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("parsing e2e.yaml: %v", err)
	}

	for _, tc := range file.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}

			header := filepath.Join(t.TempDir(), "input.h")
			if err := os.WriteFile(header, []byte(tc.Input), 0o644); err != nil {
				t.Fatal(err)
			}

			var out, errOut bytes.Buffer
			cmd := newRootCmd(&out, &errOut)
			cmd.SetArgs([]string{header})
			if err := cmd.Execute(); err != nil {
				t.Fatalf("execute: %v\nstderr: %s", err, errOut.String())
			}

			output := out.String()
			for _, want := range tc.Expect {
				if !strings.Contains(output, want) {
					t.Errorf("output missing %q:\n%s", want, output)
				}
			}
			for _, not := range tc.ExpectNot {
				if strings.Contains(output, not) {
					t.Errorf("output must not contain %q:\n%s", not, output)
				}
			}
		})
	}
}
