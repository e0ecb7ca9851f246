// Package sysinfo takes a snapshot of the operating system a run happens
// on.
package sysinfo

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// OSInfo describes the host operating system. Hostname, FQDN and Serial
// identify the machine and must not end up in shared artifacts.
type OSInfo struct {
	Platform    string
	Distro      string
	Release     string
	Codename    string
	Kernel      string
	Arch        string
	Hostname    string
	FQDN        string
	Codepage    string
	Logofile    string
	Serial      string
	Build       string
	Servicepack string
	UEFI        bool
}

// Collector gathers an OSInfo. Its fields are the sources it reads from;
// the zero value isn't usable, use NewCollector.
type Collector struct {
	Fs          afero.Fs
	Hostname    func() (string, error)
	LookupCNAME func(host string) (string, error)
	// Uname returns the kernel release and machine hardware name.
	Uname func() (release, machine string, err error)
	GOOS  string
}

// NewCollector returns a Collector reading from the running system.
func NewCollector() *Collector {
	return &Collector{
		Fs:          afero.NewOsFs(),
		Hostname:    os.Hostname,
		LookupCNAME: net.LookupCNAME,
		Uname:       uname,
		GOOS:        runtime.GOOS,
	}
}

// Collect returns what could be found out about the system. Missing
// details are left empty.
func (c *Collector) Collect() OSInfo {
	info := OSInfo{
		Platform: c.GOOS,
		Arch:     nodeArch(runtime.GOARCH),
	}
	if release, machine, err := c.Uname(); err == nil {
		info.Kernel = release
		if machine != "" {
			info.Arch = nodeArch(machine)
		}
	}
	if h, err := c.Hostname(); err == nil {
		info.Hostname = h
		info.FQDN = c.fqdn(h)
	}

	if c.GOOS == "linux" {
		c.collectLinux(&info)
	}
	if info.Distro == "" {
		info.Distro = c.GOOS
	}

	return info
}

func (c *Collector) collectLinux(info *OSInfo) {
	if rel, err := afero.ReadFile(c.Fs, "/etc/os-release"); err == nil {
		kv := parseOSRelease(rel)
		info.Distro = kv["NAME"]
		info.Release = kv["VERSION_ID"]
		info.Codename = kv["VERSION_CODENAME"]
		info.Logofile = kv["ID"]
		info.Build = kv["BUILD_ID"]
		if info.Codename == "" {
			info.Codename = kv["UBUNTU_CODENAME"]
		}
	}
	for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if id, err := afero.ReadFile(c.Fs, p); err == nil {
			info.Serial = strings.TrimSpace(string(id))
			break
		}
	}
	if ok, err := afero.DirExists(c.Fs, "/sys/firmware/efi"); err == nil {
		info.UEFI = ok
	}
	info.Codepage = codepage()
}

func (c *Collector) fqdn(hostname string) string {
	if c.LookupCNAME == nil {
		return hostname
	}
	cname, err := c.LookupCNAME(hostname)
	if err != nil || cname == "" {
		return hostname
	}

	return strings.TrimSuffix(cname, ".")
}

// parseOSRelease parses the KEY=value lines of an os-release file.
func parseOSRelease(data []byte) map[string]string {
	kv := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if uq, err := strconv.Unquote(v); err == nil {
			v = uq
		} else {
			v = strings.Trim(v, `'"`)
		}
		kv[k] = v
	}

	return kv
}

// nodeArch names architectures the way Node.js' os.arch() does, which is
// what earlier artifacts contain.
func nodeArch(arch string) string {
	switch arch {
	case "amd64", "x86_64":
		return "x64"
	case "386", "i386", "i686":
		return "ia32"
	case "aarch64":
		return "arm64"
	case "armv7l", "armv6l":
		return "arm"
	default:
		return arch
	}
}

func codepage() string {
	for _, env := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		if v := os.Getenv(env); v != "" {
			if _, cs, ok := strings.Cut(v, "."); ok {
				return cs
			}
		}
	}

	return ""
}
