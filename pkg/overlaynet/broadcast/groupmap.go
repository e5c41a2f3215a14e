package broadcast

// DefaultMulticastGroup is used for any destination port with no specific
// mapping.
const DefaultMulticastGroup = "224.0.0.1"

// portToGroup maps well-known discovery ports to the multicast group the
// corresponding protocol actually uses.
var portToGroup = map[int]string{
	5353: "224.0.0.251",     // mDNS
	1900: "239.255.255.250", // SSDP
}

// GroupForPort returns the multicast group a re-injected broadcast should
// target for destPort.
func GroupForPort(destPort int) string {
	if group, ok := portToGroup[destPort]; ok {
		return group
	}
	return DefaultMulticastGroup
}

// DefaultMonitoredPorts are the well-known game-discovery ports the
// listener set binds by default.
var DefaultMonitoredPorts = []int{4445, 7777, 27015, 27016, 6112, 6073}
