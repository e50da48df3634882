package hostexec

import (
	"context"
	"testing"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// stubRunner answers commands by their rendered string.
type stubRunner struct {
	outputs map[string]string
	calls   []string
}

func (s *stubRunner) Run(_ context.Context, c engine.Command) (*engine.CommandOutput, error) {
	key := c.String()
	s.calls = append(s.calls, key)
	if out, ok := s.outputs[key]; ok {
		return &engine.CommandOutput{Stdout: out}, nil
	}
	return &engine.CommandOutput{ExitCode: 1}, engine.NewActionError(key+" exited with status 1", nil)
}

func TestForOS(t *testing.T) {
	tests := []struct {
		id, version string
		like        []string
		want        PackageManager
		ok          bool
	}{
		{"ubuntu", "22.04", nil, Apt, true},
		{"debian", "12", nil, Apt, true},
		{"fedora", "40", nil, Dnf, true},
		{"rocky", "9.3", []string{"rhel", "centos", "fedora"}, Dnf, true},
		{"centos", "7", []string{"rhel", "fedora"}, Yum, true},
		{"amzn", "2", []string{"centos", "rhel", "fedora"}, Yum, true},
		{"amzn", "2023", []string{"fedora"}, Dnf, true},
		{"opensuse-leap", "15.5", []string{"suse", "opensuse"}, Zypper, true},
		{"elementary", "7", []string{"ubuntu"}, Apt, true},
		{"alpine", "3.19", nil, "", false},
		{"arch", "", nil, "", false},
	}

	for _, tt := range tests {
		got, ok := ForOS(tt.id, tt.version, tt.like)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ForOS(%s, %s) = %q %v, want %q %v", tt.id, tt.version, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPackageManagerCommands(t *testing.T) {
	tests := []struct {
		mgr                     PackageManager
		install, query, refresh string
	}{
		{Apt, "apt-get install -y --no-install-recommends docker.io docker-compose-v2",
			"dpkg-query -W '-f=${Version}' docker.io", "apt-get update"},
		{Dnf, "dnf install -y docker.io docker-compose-v2",
			"rpm -q --queryformat %{VERSION}-%{RELEASE} docker.io", "dnf makecache"},
		{Zypper, "zypper --non-interactive install docker.io docker-compose-v2",
			"rpm -q --queryformat %{VERSION}-%{RELEASE} docker.io", "zypper --non-interactive refresh"},
	}

	for _, tt := range tests {
		if got := tt.mgr.Install("docker.io", "docker-compose-v2").String(); got != tt.install {
			t.Errorf("%s install = %q, want %q", tt.mgr, got, tt.install)
		}
		if got := tt.mgr.Query("docker.io").String(); got != tt.query {
			t.Errorf("%s query = %q, want %q", tt.mgr, got, tt.query)
		}
		if got := tt.mgr.Refresh().String(); got != tt.refresh {
			t.Errorf("%s refresh = %q, want %q", tt.mgr, got, tt.refresh)
		}
	}
}

func TestInstalled(t *testing.T) {
	r := &stubRunner{outputs: map[string]string{
		Apt.Query("nvidia-container-toolkit").String(): "1.14.3-1\n",
		Apt.Query("removed").String():                  "",
	}}
	ctx := context.Background()

	ok, v, err := Apt.Installed(ctx, r, "nvidia-container-toolkit")
	if err != nil || !ok || v != "1.14.3-1" {
		t.Errorf("Installed = %v %q %v", ok, v, err)
	}

	ok, _, err = Apt.Installed(ctx, r, "removed")
	if err != nil || ok {
		t.Errorf("Package with empty version should be absent, got %v %v", ok, err)
	}

	ok, _, err = Apt.Installed(ctx, r, "missing")
	if err != nil || ok {
		t.Errorf("Missing package should be absent without error, got %v %v", ok, err)
	}

	if _, _, err := PackageManager("pacman").Installed(ctx, r, "x"); err == nil {
		t.Error("Expected error for unsupported package manager")
	}
}

func TestServiceRunning(t *testing.T) {
	r := &stubRunner{outputs: map[string]string{
		"systemctl is-active docker":                         "active\n",
		"systemctl is-enabled docker":                        "enabled\n",
		"systemctl show docker --property=SubState --value": "running\n",
	}}
	env := &engine.Env{Runner: r}

	ok, err := ServiceRunning("docker")(context.Background(), env)
	if err != nil || !ok {
		t.Errorf("Expected docker running, got %v %v", ok, err)
	}

	ok, _ = ServiceRunning("containerd")(context.Background(), env)
	if ok {
		t.Error("Unknown unit must not be reported running")
	}

	st := GetServiceStatus(context.Background(), r, "docker")
	if st.SubState != "running" {
		t.Errorf("SubState = %q", st.SubState)
	}
}
