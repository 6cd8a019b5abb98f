package netgate

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ARPTable reads the kernel neighbour table (/proc/net/arp) and reports
// devices whose IP and hardware address are both absent from Known.
type ARPTable struct {
	Path  string
	Known map[string]struct{}
}

// NewARPTable builds a checker from a list of allowed IP or MAC addresses.
func NewARPTable(path string, known []string) *ARPTable {
	set := make(map[string]struct{}, len(known))
	for _, mac := range known {
		set[strings.ToLower(strings.TrimSpace(mac))] = struct{}{}
	}
	return &ARPTable{Path: path, Known: set}
}

// UnknownDevices returns the sorted IP addresses of complete ARP entries that
// are not known. An empty known list disables the check.
func (a *ARPTable) UnknownDevices(context.Context) ([]string, error) {
	if len(a.Known) == 0 {
		return nil, nil
	}
	file, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("open arp table: %w", err)
	}
	defer file.Close()

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		// IP address, HW type, Flags, HW address, Mask, Device
		if len(fields) < 4 {
			continue
		}
		if fields[2] == "0x0" {
			continue
		}
		ip, mac := fields[0], strings.ToLower(fields[3])
		if mac == "00:00:00:00:00:00" {
			continue
		}
		if _, ok := a.Known[mac]; ok {
			continue
		}
		if _, ok := a.Known[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read arp table: %w", err)
	}

	out := make([]string, 0, len(seen))
	for ip := range seen {
		out = append(out, ip)
	}
	sort.Strings(out)
	return out, nil
}
