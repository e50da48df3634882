package version

import (
	"testing"

	"github.com/openfroyo/hostprep/pkg/engine"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "11.8", want: "11.8"},
		{in: " 12.2\n", want: "12.2"},
		{in: "535.104.05", want: "535.104.5"},
		{in: "v24.0.7", want: "24.0.7"},
		{in: "12", want: "12"},
		{in: "", wantErr: true},
		{in: "12.", wantErr: true},
		{in: ".12", wantErr: true},
		{in: "12..1", wantErr: true},
		{in: "12.x", wantErr: true},
		{in: "N/A", wantErr: true},
		{in: "12.2-1", wantErr: true},
	}

	for _, tt := range tests {
		v, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %v", tt.in, v)
			} else if !engine.IsMalformedVersion(err) {
				t.Errorf("Parse(%q): expected MALFORMED_VERSION, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", tt.in, err)
			continue
		}
		if v.String() != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.in, v, tt.want)
		}
	}
}

func TestMeets(t *testing.T) {
	tests := []struct {
		v, min string
		want   bool
	}{
		{"11.8", "11.8", true},
		{"11.7", "11.8", false},
		{"12.0", "11.8", true},
		{"12", "12.0", true},
		{"12.0.1", "12", true},
		{"11.10", "11.8", true},
		{"9.9.9", "10", false},
	}

	for _, tt := range tests {
		got := Meets(mustParse(t, tt.v), mustParse(t, tt.min))
		if got != tt.want {
			t.Errorf("Meets(%s, %s) = %v, want %v", tt.v, tt.min, got, tt.want)
		}
	}
}

func TestCompare_TotalOrder(t *testing.T) {
	versions := []string{"1", "1.0.1", "1.2", "1.10", "2", "2.0.0.1", "11.8", "12.2"}
	for i, a := range versions {
		for j, b := range versions {
			got := Compare(mustParse(t, a), mustParse(t, b))
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = 1
			}
			if got != want {
				t.Errorf("Compare(%s, %s) = %d, want %d", a, b, got, want)
			}
			if Compare(mustParse(t, b), mustParse(t, a)) != -got {
				t.Errorf("Compare(%s, %s) is not antisymmetric", a, b)
			}
		}
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Cuda compilation tools, release 12.2, V12.2.140", "12.2"},
		{"Docker version 24.0.7, build afdd53b", "24.0.7"},
		{"Docker Compose version v2.21.0", "2.21.0"},
		{"NVIDIA Container Toolkit CLI version 1.14.3\ncommit: abc", "1.14.3"},
	}
	for _, tt := range tests {
		v, err := Extract(tt.in)
		if err != nil {
			t.Errorf("Extract(%q): %v", tt.in, err)
			continue
		}
		if v.String() != tt.want {
			t.Errorf("Extract(%q) = %s, want %s", tt.in, v, tt.want)
		}
	}

	if _, err := Extract("command not found"); !engine.IsMalformedVersion(err) {
		t.Errorf("Expected MALFORMED_VERSION for output without a version, got %v", err)
	}
}

func TestFromCUDADriverInt(t *testing.T) {
	if got := FromCUDADriverInt(12020).String(); got != "12.2" {
		t.Errorf("Expected 12.2, got %s", got)
	}
	if got := FromCUDADriverInt(11080).String(); got != "11.8" {
		t.Errorf("Expected 11.8, got %s", got)
	}
}

func TestAtLeast(t *testing.T) {
	ok, err := AtLeast("12.2", "11.8")
	if err != nil || !ok {
		t.Errorf("Expected 12.2 >= 11.8, got %v %v", ok, err)
	}
	if _, err := AtLeast("garbage", "11.8"); !engine.IsMalformedVersion(err) {
		t.Errorf("Expected MALFORMED_VERSION, got %v", err)
	}
}

func mustParse(t *testing.T, text string) Version {
	t.Helper()
	v, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return v
}
