package hostexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// PackageManager identifies a distribution package manager.
type PackageManager string

const (
	Apt    PackageManager = "apt"
	Dnf    PackageManager = "dnf"
	Yum    PackageManager = "yum"
	Zypper PackageManager = "zypper"
)

// Valid reports whether the package manager is supported.
func (m PackageManager) Valid() bool {
	switch m {
	case Apt, Dnf, Yum, Zypper:
		return true
	default:
		return false
	}
}

// ForOS maps an os-release ID (with ID_LIKE fallbacks) to its package manager.
// The second return value is false for unsupported distributions.
func ForOS(id, versionID string, like []string) (PackageManager, bool) {
	candidates := append([]string{strings.ToLower(id)}, like...)
	for _, c := range candidates {
		switch strings.ToLower(c) {
		case "ubuntu", "debian", "linuxmint", "pop", "raspbian":
			return Apt, true
		case "fedora":
			return Dnf, true
		case "rhel", "centos", "rocky", "almalinux", "ol":
			if majorVersion(versionID) > 0 && majorVersion(versionID) < 8 {
				return Yum, true
			}
			return Dnf, true
		case "amzn":
			if versionID == "2" {
				return Yum, true
			}
			return Dnf, true
		case "opensuse", "opensuse-leap", "opensuse-tumbleweed", "sles", "suse":
			return Zypper, true
		}
	}
	return "", false
}

// Family returns the distribution family a package manager belongs to.
func (m PackageManager) Family() string {
	switch m {
	case Apt:
		return "debian"
	case Dnf, Yum:
		return "rhel"
	case Zypper:
		return "suse"
	default:
		return ""
	}
}

// Refresh returns the command that refreshes package metadata.
func (m PackageManager) Refresh() engine.Command {
	switch m {
	case Apt:
		return engine.NewCommand("apt-get", "update")
	case Zypper:
		return engine.NewCommand("zypper", "--non-interactive", "refresh")
	default:
		return engine.NewCommand(string(m), "makecache")
	}
}

// Install returns the command that installs packages non-interactively.
func (m PackageManager) Install(pkgs ...string) engine.Command {
	switch m {
	case Apt:
		return engine.NewCommand("apt-get", append([]string{"install", "-y", "--no-install-recommends"}, pkgs...)...)
	case Zypper:
		return engine.NewCommand("zypper", append([]string{"--non-interactive", "install"}, pkgs...)...)
	default:
		return engine.NewCommand(string(m), append([]string{"install", "-y"}, pkgs...)...)
	}
}

// Query returns the command that prints the installed version of a package.
// It exits non-zero when the package is not installed.
func (m PackageManager) Query(pkg string) engine.Command {
	switch m {
	case Apt:
		return engine.NewCommand("dpkg-query", "-W", "-f=${Version}", pkg)
	default:
		return engine.NewCommand("rpm", "-q", "--queryformat", "%{VERSION}-%{RELEASE}", pkg)
	}
}

// Installed reports whether pkg is installed and its version.
func (m PackageManager) Installed(ctx context.Context, runner engine.Runner, pkg string) (bool, string, error) {
	if !m.Valid() {
		return false, "", fmt.Errorf("unsupported package manager: %s", m)
	}
	out, err := runner.Run(ctx, m.Query(pkg))
	if err != nil {
		if engine.IsTimeout(err) {
			return false, "", err
		}
		return false, "", nil
	}
	v := strings.TrimSpace(out.Stdout)
	// dpkg-query prints nothing for packages in "deinstall" state.
	if v == "" {
		return false, "", nil
	}
	return true, v, nil
}

func majorVersion(versionID string) int {
	major := versionID
	if i := strings.IndexByte(versionID, '.'); i >= 0 {
		major = versionID[:i]
	}
	n := 0
	for _, r := range major {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
