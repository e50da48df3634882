package facts

import (
	"bufio"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// ParseOSRelease parses the KEY=value format of /etc/os-release.
func ParseOSRelease(content string) engine.OSFacts {
	var rel engine.OSFacts

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = unquote(value)

		switch key {
		case "ID":
			rel.ID = strings.ToLower(value)
		case "VERSION_ID":
			rel.VersionID = value
		case "NAME":
			rel.Name = value
		case "PRETTY_NAME":
			rel.PrettyName = value
		case "ID_LIKE":
			rel.Like = strings.Fields(strings.ToLower(value))
		}
	}
	return rel
}

func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// pciNVIDIA matches lspci -nn lines for NVIDIA display controllers, e.g.
// 01:00.0 VGA compatible controller [0300]: NVIDIA Corporation GA102 [GeForce RTX 3090] [10de:2204] (rev a1)
var pciNVIDIA = regexp.MustCompile(`^(\S+)\s+(VGA compatible controller|3D controller|Display controller)\s+\[03[0-9a-f]{2}\]:\s+(.*?)\s+\[10de:[0-9a-f]{4}\]`)

// ParseLspci returns the NVIDIA display controllers listed in lspci -nn output.
func ParseLspci(output string) []engine.GPUDevice {
	var devices []engine.GPUDevice
	for _, line := range strings.Split(output, "\n") {
		m := pciNVIDIA.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		devices = append(devices, engine.GPUDevice{
			Index:      len(devices),
			Name:       m[3],
			PCIAddress: m[1],
		})
	}
	return devices
}

// ParseNvidiaSMIQuery parses the CSV output of
// nvidia-smi --query-gpu=index,name,uuid,pci.bus_id,memory.total --format=csv,noheader,nounits
func ParseNvidiaSMIQuery(output string) []engine.GPUDevice {
	var devices []engine.GPUDevice
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		mem, _ := strconv.ParseUint(fields[4], 10, 64)
		devices = append(devices, engine.GPUDevice{
			Index:      idx,
			Name:       fields[1],
			UUID:       fields[2],
			PCIAddress: fields[3],
			MemoryMB:   mem,
		})
	}
	return devices
}

var devNode = regexp.MustCompile(`^nvidia[0-9]+$`)

// HasNvidiaDeviceNodes reports whether a /dev listing contains nvidiaN nodes.
func HasNvidiaDeviceNodes(listing string) bool {
	for _, name := range strings.Fields(listing) {
		if devNode.MatchString(name) {
			return true
		}
	}
	return false
}

// FieldAfter returns the token that follows marker on the same line, without
// interpreting it. Tokens end at whitespace, commas or table borders.
// It returns "" when the marker is absent.
//
//	FieldAfter("Driver Version: 535.104.05   CUDA Version: 12.2 |", "CUDA Version:") == "12.2"
func FieldAfter(text, marker string) string {
	idx := strings.Index(text, marker)
	if idx < 0 {
		return ""
	}
	rest := text[idx+len(marker):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	rest = strings.TrimSpace(rest)
	if end := strings.IndexAny(rest, " \t,|"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// dockerInfo is the JSON produced by dockerInfoFormat.
type dockerInfo struct {
	Default  string                     `json:"default"`
	Runtimes map[string]json.RawMessage `json:"runtimes"`
}

const dockerInfoFormat = `{"default":{{json .DefaultRuntime}},"runtimes":{{json .Runtimes}}}`

// ParseDockerInfo parses the output of docker info --format dockerInfoFormat
// into sorted runtime names and the default runtime.
func ParseDockerInfo(output string) ([]string, string, error) {
	var info dockerInfo
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &info); err != nil {
		return nil, "", err
	}
	return sortedKeys(info.Runtimes), info.Default, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
