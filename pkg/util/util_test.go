// util_test.go: ClampInt / LoadFromEnv / SplitList 表驱动测试。
package util

import (
	"reflect"
	"testing"
)

func TestClampInt(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi int
		want      int
	}{
		{"below_min", -1, 0, 10, 0},
		{"above_max", 20, 0, 10, 10},
		{"in_range", 5, 0, 10, 5},
		{"at_min", 0, 0, 10, 0},
		{"at_max", 10, 0, 10, 10},
		{"negative_range", -5, -10, -1, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampInt(tt.v, tt.lo, tt.hi)
			if got != tt.want {
				t.Errorf("ClampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"kb", []string{"kb"}},
		{"kb, web ,,intranet", []string{"kb", "web", "intranet"}},
		{" , ", []string{}},
	}
	for _, tt := range tests {
		if got := SplitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitList(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	type sample struct {
		Name    string   `env:"UTIL_TEST_NAME" default:"anon"`
		Width   int      `env:"UTIL_TEST_WIDTH" default:"80" min:"10"`
		Ratio   float64  `env:"UTIL_TEST_RATIO" default:"0.5" min:"0"`
		Enabled bool     `env:"UTIL_TEST_ENABLED" default:"true"`
		Sources []string `env:"UTIL_TEST_SOURCES" default:"kb,web"`
		Skipped string
	}

	t.Setenv("UTIL_TEST_WIDTH", "3")
	t.Setenv("UTIL_TEST_ENABLED", "off")
	t.Setenv("UTIL_TEST_SOURCES", "intranet")

	var got sample
	LoadFromEnv(&got)

	want := sample{Name: "anon", Width: 10, Ratio: 0.5, Enabled: false, Sources: []string{"intranet"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadFromEnv = %#v, want %#v", got, want)
	}
}

func TestLoadFromEnvRejectsNonPointer(t *testing.T) {
	type sample struct {
		Name string `env:"UTIL_TEST_NAME" default:"anon"`
	}
	var s sample
	LoadFromEnv(s)
	LoadFromEnv(nil)
	if s.Name != "" {
		t.Errorf("non-pointer value mutated: %q", s.Name)
	}
}
