package scan

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// ifaceSnapshot is the immutable, shared, read-only bundle every
// worker consults: the local IPv4 address, local and next-hop MAC
// addresses, and the raw layer-2 handle name to open. Created once at
// startup from OS routing/ARP tables (or an explicit interface name)
// and never mutated afterwards.
type ifaceSnapshot struct {
	name       string
	deviceIP   net.IP
	deviceMAC  net.HardwareAddr
	gatewayMAC net.HardwareAddr
}

// routePath and arpPath are package vars so tests can redirect them at
// fixture files without touching the real /proc tree.
var (
	routePath = "/proc/net/route"
	arpPath   = "/proc/net/arp"
)

// fetchIfaceSnapshot builds the interface snapshot for interfaceName.
// An empty interfaceName triggers auto-detection: first the
// default-route interface named in /proc/net/route, falling back to
// the first up, non-loopback platform interface.
func fetchIfaceSnapshot(interfaceName string) (*ifaceSnapshot, error) {
	name := interfaceName
	if name == "" {
		detected, err := defaultInterfaceName()
		if err != nil {
			return nil, err
		}
		name = detected
	}

	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("resolve interface %q: %w", name, err)
	}

	deviceIP, err := interfaceIPv4(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", name, err)
	}

	gatewayIP, err := defaultGatewayIP(name)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway for %q: %w", name, err)
	}

	gatewayMAC, err := macForIP(gatewayIP)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway MAC: %w", err)
	}

	return &ifaceSnapshot{
		name:       name,
		deviceIP:   deviceIP,
		deviceMAC:  iface.HardwareAddr,
		gatewayMAC: gatewayMAC,
	}, nil
}

func interfaceIPv4(iface *net.Interface) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address assigned")
}

// defaultInterfaceName implements the two-stage fallback described in
// SPEC_FULL.md §5: consult the kernel's default-route table first,
// then fall back to the first up/non-loopback interface.
func defaultInterfaceName() (string, error) {
	if name, err := defaultRouteInterface(); err == nil {
		return name, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Name == "" {
			continue
		}
		return iface.Name, nil
	}
	return "", fmt.Errorf("no usable network interface found")
}

// defaultRouteInterface scans /proc/net/route for the default-route
// line (destination and mask both 00000000) and returns its
// interface name (column 0).
func defaultRouteInterface() (string, error) {
	f, err := os.Open(routePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", routePath, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Scan() // header line
	for sc.Scan() {
		cols := strings.Fields(sc.Text())
		if len(cols) < 8 {
			continue
		}
		if cols[1] == "00000000" && cols[7] == "00000000" {
			return cols[0], nil
		}
	}
	return "", fmt.Errorf("no default route found in %s", routePath)
}

// defaultGatewayIP scans /proc/net/route for the default-route line
// belonging to interfaceName and decodes its gateway column (2, little
// endian hex) into a dotted-quad IPv4 address.
func defaultGatewayIP(interfaceName string) (net.IP, error) {
	f, err := os.Open(routePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", routePath, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Scan() // header line
	for sc.Scan() {
		cols := strings.Fields(sc.Text())
		if len(cols) < 8 {
			continue
		}
		if cols[0] != interfaceName || cols[1] != "00000000" || cols[7] != "00000000" {
			continue
		}
		raw, err := strconv.ParseUint(cols[2], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("parse gateway column %q: %w", cols[2], err)
		}
		be := uint32(raw)
		ip := net.IPv4(
			byte(be&0xFF),
			byte((be>>8)&0xFF),
			byte((be>>16)&0xFF),
			byte((be>>24)&0xFF),
		)
		return ip.To4(), nil
	}
	return nil, fmt.Errorf("no default route for interface %q in %s", interfaceName, routePath)
}

// macForIP scans /proc/net/arp (column 0 IPv4, column 3 colon-hex MAC)
// for the hardware address of ip.
func macForIP(ip net.IP) (net.HardwareAddr, error) {
	f, err := os.Open(arpPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", arpPath, err)
	}
	defer f.Close()

	target := ip.String()
	sc := bufio.NewScanner(f)
	sc.Scan() // header line
	for sc.Scan() {
		cols := strings.Fields(sc.Text())
		if len(cols) < 4 {
			continue
		}
		if cols[0] != target {
			continue
		}
		mac, err := net.ParseMAC(cols[3])
		if err != nil {
			return nil, fmt.Errorf("parse MAC %q: %w", cols[3], err)
		}
		return mac, nil
	}
	return nil, fmt.Errorf("no ARP entry for %s in %s", target, arpPath)
}
