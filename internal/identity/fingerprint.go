package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
)

// Fingerprint derives the device id from hardware factors: the MAC address
// of the primary interface and the CPU model. Hostname is left out since
// users rename machines.
type Fingerprint struct {
	// Interfaces lists network interfaces; nil uses net.Interfaces.
	Interfaces func() ([]net.Interface, error)
	// CPUInfoPath is read on Linux for the CPU model.
	CPUInfoPath string
}

func (f Fingerprint) Name() string { return "fingerprint" }

func (f Fingerprint) Lookup(context.Context) (string, error) {
	mac, err := f.macAddress()
	if err != nil {
		slog.Debug("no usable MAC address for fingerprint", slog.String("error", err.Error()))
		return "", ErrUnavailable
	}

	factors := []string{mac, f.cpuModel(), runtime.GOOS, runtime.GOARCH}
	return derive("fingerprint", strings.Join(factors, "|")), nil
}

// macAddress picks the lowest named up, non-loopback interface with a
// hardware address, so the choice does not depend on enumeration order.
func (f Fingerprint) macAddress() (string, error) {
	list := f.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	interfaces, err := list()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	sort.Slice(interfaces, func(i, j int) bool { return interfaces[i].Name < interfaces[j].Name })

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	return "", fmt.Errorf("no valid MAC address found")
}

func (f Fingerprint) cpuModel() string {
	if runtime.GOOS != "linux" {
		return runtime.GOARCH
	}

	path := f.CPUInfoPath
	if path == "" {
		path = "/proc/cpuinfo"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return runtime.GOARCH
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "model name") {
			return strings.TrimSpace(line)
		}
	}
	return runtime.GOARCH
}
