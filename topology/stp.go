// Package topology models the Service Termination Points (STPs) of the
// local NRM domain and loads them from the YAML topology file of spec.md
// §6, grounded on the STP fixtures of original_source's
// nrm/backends/yaml_topology_test.py backends.
package topology

// VlanRange is an inclusive [Low, High] range of VLAN identifiers.
type VlanRange struct {
	Low, High int
}

// Contains reports whether vlan falls within the range.
func (r VlanRange) Contains(vlan int) bool { return vlan >= r.Low && vlan <= r.High }

// STP is a resolved Service Termination Point (spec.md §3).
type STP struct {
	StpID       string
	PortID      string
	VlanRanges  []VlanRange
	BandwidthMbps int
	Topology    string

	// IsAliasIn / IsAliasOut are the resolved alias identifiers produced
	// by expanding a remote_stp / remote_stp_in / remote_stp_out entry
	// (spec.md §6). Empty when the STP has no alias.
	IsAliasIn  string
	IsAliasOut string
}

// AllowsVlan reports whether vlan is within any of the STP's configured
// VLAN ranges.
func (s STP) AllowsVlan(vlan int) bool {
	for _, r := range s.VlanRanges {
		if r.Contains(vlan) {
			return true
		}
	}
	return false
}

// AllowsBandwidth reports whether the STP can accommodate the requested
// bandwidth.
func (s STP) AllowsBandwidth(mbps int) bool {
	return mbps <= s.BandwidthMbps
}

// Cache is a read-shared view over the domain's STPs, keyed by StpID. It
// is read by every message processor (spec.md §5's shared-resource (b)).
// It is built once by NewCache and has no refresh method; no job in this
// module reloads it.
type Cache struct {
	byID map[string]STP
}

// NewCache wraps a loaded STP set.
func NewCache(stps []STP) *Cache {
	var c = &Cache{byID: make(map[string]STP, len(stps))}
	for _, s := range stps {
		c.byID[s.StpID] = s
	}
	return c
}

// Lookup returns the STP for stpID, or false if unknown.
func (c *Cache) Lookup(stpID string) (STP, bool) {
	var s, ok = c.byID[stpID]
	return s, ok
}

// All returns a snapshot slice of every STP in the cache.
func (c *Cache) All() []STP {
	var out = make([]STP, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s)
	}
	return out
}
