package topology

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempTopology(t *testing.T, body string) string {
	t.Helper()
	var dir = t.TempDir()
	var path = filepath.Join(dir, "topology.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileExpandsRemoteSTPAlias(t *testing.T) {
	var path = writeTempTopology(t, `
stps:
  - stp_id: urn:ogf:network:example.org:2024:topology:Eth1
    port_id: Eth1
    vlan_ranges: ["1700-1800"]
    bandwidth: 10000
    remote_stp:
      prefix_urn: urn:ogf:network:partner.org:2024:topology
      id: PartnerEth1
`)
	var stps, err = LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(stps) != 1 {
		t.Fatalf("got %d stps, want 1", len(stps))
	}
	var s = stps[0]
	if want := "urn:ogf:network:partner.org:2024:topology:PartnerEth1:out"; s.IsAliasIn != want {
		t.Errorf("IsAliasIn = %q, want %q", s.IsAliasIn, want)
	}
	if want := "urn:ogf:network:partner.org:2024:topology:PartnerEth1:in"; s.IsAliasOut != want {
		t.Errorf("IsAliasOut = %q, want %q", s.IsAliasOut, want)
	}
	if !s.AllowsVlan(1799) {
		t.Error("expected vlan 1799 to be allowed")
	}
	if s.AllowsVlan(1801) {
		t.Error("expected vlan 1801 to be rejected")
	}
	if !s.AllowsBandwidth(1000) {
		t.Error("expected 1000 Mbps to be allowed")
	}
	if s.AllowsBandwidth(20000) {
		t.Error("expected 20000 Mbps to be rejected")
	}
}

func TestLoadFileDirectionalAliasesNoSwap(t *testing.T) {
	var path = writeTempTopology(t, `
stps:
  - stp_id: urn:ogf:network:example.org:2024:topology:Eth2
    port_id: Eth2
    vlan_ranges: ["100-200"]
    bandwidth: 1000
    remote_stp_in:
      prefix_urn: urn:ogf:network:partner.org:2024:topology
      id: PartnerEth2
`)
	var stps, err = LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var s = stps[0]
	if want := "urn:ogf:network:partner.org:2024:topology:PartnerEth2"; s.IsAliasIn != want {
		t.Errorf("IsAliasIn = %q, want %q", s.IsAliasIn, want)
	}
	if s.IsAliasOut != "" {
		t.Errorf("IsAliasOut = %q, want empty", s.IsAliasOut)
	}
}
