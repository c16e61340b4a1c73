package topology

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// remoteSTPRef is the {prefix_urn, id} value of a remote_stp,
// remote_stp_in or remote_stp_out key.
type remoteSTPRef struct {
	PrefixURN string `yaml:"prefix_urn"`
	ID        string `yaml:"id"`
}

// stpFileEntry mirrors a single entry of the `stps:` list in the YAML
// topology file (spec.md §6).
type stpFileEntry struct {
	StpID      string        `yaml:"stp_id"`
	PortID     string        `yaml:"port_id"`
	VlanRanges []string      `yaml:"vlan_ranges"`
	Bandwidth  int           `yaml:"bandwidth"`
	RemoteSTP  *remoteSTPRef `yaml:"remote_stp,omitempty"`
	RemoteIn   *remoteSTPRef `yaml:"remote_stp_in,omitempty"`
	RemoteOut  *remoteSTPRef `yaml:"remote_stp_out,omitempty"`
}

type topologyFile struct {
	STPs []stpFileEntry `yaml:"stps"`
}

// LoadFile parses the YAML topology file at path and returns its resolved
// STPs, expanding remote_stp aliases per spec.md §6:
//
//	remote_stp {prefix_urn, id} expands into
//	  is_alias_in  = "<prefix>:<id>:out"
//	  is_alias_out = "<prefix>:<id>:in"
//	(swapped: the remote side's "out" is our "in", and vice versa).
//
// remote_stp_in / remote_stp_out set the corresponding alias directly,
// without the swap.
func LoadFile(path string) ([]STP, error) {
	var raw, err = os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading topology file")
	}
	var tf topologyFile
	if err = yaml.Unmarshal(raw, &tf); err != nil {
		return nil, errors.Wrap(err, "parsing topology YAML")
	}

	var out = make([]STP, 0, len(tf.STPs))
	for _, e := range tf.STPs {
		var ranges, err = parseVlanRanges(e.VlanRanges)
		if err != nil {
			return nil, errors.Wrapf(err, "stp %s", e.StpID)
		}
		var s = STP{
			StpID:         e.StpID,
			PortID:        e.PortID,
			VlanRanges:    ranges,
			BandwidthMbps: e.Bandwidth,
		}
		switch {
		case e.RemoteSTP != nil:
			s.IsAliasIn = fmt.Sprintf("%s:%s:out", e.RemoteSTP.PrefixURN, e.RemoteSTP.ID)
			s.IsAliasOut = fmt.Sprintf("%s:%s:in", e.RemoteSTP.PrefixURN, e.RemoteSTP.ID)
		case e.RemoteIn != nil:
			s.IsAliasIn = fmt.Sprintf("%s:%s", e.RemoteIn.PrefixURN, e.RemoteIn.ID)
		case e.RemoteOut != nil:
			s.IsAliasOut = fmt.Sprintf("%s:%s", e.RemoteOut.PrefixURN, e.RemoteOut.ID)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseVlanRanges(raw []string) ([]VlanRange, error) {
	var out = make([]VlanRange, 0, len(raw))
	for _, r := range raw {
		var parts = strings.SplitN(r, "-", 2)
		var low, high int
		var err error
		if low, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
			return nil, errors.Wrapf(err, "vlan range %q", r)
		}
		if len(parts) == 1 {
			high = low
		} else if high, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
			return nil, errors.Wrapf(err, "vlan range %q", r)
		}
		out = append(out, VlanRange{Low: low, High: high})
	}
	return out, nil
}
