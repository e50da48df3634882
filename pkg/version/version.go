// Package version parses and compares dotted numeric versions such as
// CUDA releases ("12.2"), driver versions ("535.104.05") and tool versions.
package version

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// Version is an ordered tuple of numeric components.
type Version []int

var (
	strictPattern = regexp.MustCompile(`^\d+(\.\d+)*$`)
	dottedPattern = regexp.MustCompile(`\d+(\.\d+)+`)
)

// Parse parses text such as "11.8" or "v24.0.7". Surrounding whitespace and
// a single leading "v" are ignored; anything else that is not digits
// separated by dots fails with MALFORMED_VERSION.
func Parse(text string) (Version, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "v")
	if !strictPattern.MatchString(s) {
		return nil, engine.NewMalformedVersionError(text)
	}

	parts := strings.Split(s, ".")
	v := make(Version, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, engine.NewMalformedVersionError(text)
		}
		v[i] = n
	}
	return v, nil
}

// Extract finds the first dotted version inside free-form tool output, e.g.
// "Cuda compilation tools, release 12.2, V12.2.140" yields 12.2.
func Extract(text string) (Version, error) {
	m := dottedPattern.FindString(text)
	if m == "" {
		return nil, engine.NewMalformedVersionError(strings.TrimSpace(text))
	}
	return Parse(m)
}

// FromCUDADriverInt converts NVML's integer encoding (1000*major + 10*minor)
// into a version, e.g. 12020 -> 12.2.
func FromCUDADriverInt(n int) Version {
	return Version{n / 1000, (n % 1000) / 10}
}

// Compare returns -1, 0 or 1. Missing trailing components compare as 0,
// so "12" equals "12.0".
func Compare(a, b Version) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// Meets reports whether v >= minimum.
func Meets(v, minimum Version) bool {
	return Compare(v, minimum) >= 0
}

// Meets reports whether v >= minimum.
func (v Version) Meets(minimum Version) bool {
	return Meets(v, minimum)
}

// String renders the version in dotted form.
func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// AtLeast parses both arguments and reports whether text >= minimum.
func AtLeast(text, minimum string) (bool, error) {
	v, err := Parse(text)
	if err != nil {
		return false, err
	}
	m, err := Parse(minimum)
	if err != nil {
		return false, err
	}
	return Meets(v, m), nil
}
