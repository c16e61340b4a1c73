// Package sshcli implements nrm.Backend by driving a switch's interactive
// CLI over SSH, the way original_source's aristaEOS4.py, dellOS10.py, and
// clab_aristaCEOS4_netmiko.py backends drive Arista EOS / Dell OS10 shells
// through Paramiko: open an interactive shell channel, write a templated
// command sequence that provisions (or tears down) a trunked VLAN on two
// interfaces, and commit with a vendor-specific save command.
package sshcli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"go.nsi.dev/provider/nrm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/topology"
)

// CommandSet is the vendor-specific CLI command templates, mirroring the
// BackendSettings.cmd_* fields the Python backends load from an env file.
// %d is substituted with a VLAN ID, %s with an interface name.
type CommandSet struct {
	Enable        string
	Configure     string
	CreateVlan    string // "vlan %d"
	DeleteVlan    string // "no vlan %d"
	Interface     string // "interface %s"
	ModeTrunk     string
	TrunkAddVlan  string // "switchport trunk allowed vlan add %d"
	TrunkRemVlan  string // "switchport trunk allowed vlan remove %d"
	Exit          string
	Commit        string // "write" (Arista) / "copy running startup" (Dell)
}

// AristaEOS4 returns the command set original_source's aristaEOS4.py uses.
func AristaEOS4() CommandSet {
	return CommandSet{
		Enable:       "enable",
		Configure:    "configure",
		CreateVlan:   "vlan %d",
		DeleteVlan:   "no vlan %d",
		Interface:    "interface %s",
		ModeTrunk:    "switchport mode trunk",
		TrunkAddVlan: "switchport trunk allowed vlan add %d",
		TrunkRemVlan: "switchport trunk allowed vlan remove %d",
		Exit:         "exit",
		Commit:       "write",
	}
}

// DellOS10 returns the command set original_source's dellOS10.py uses.
func DellOS10() CommandSet {
	var c = AristaEOS4()
	c.Commit = "copy running-configuration startup-configuration"
	return c
}

// Config parametrizes a Backend's SSH connection, mirroring
// BackendSettings' ssh_* fields.
type Config struct {
	Hostname   string
	Port       int
	Username   string
	ClientConfig *ssh.ClientConfig
	Commands   CommandSet
	Shell      ShellDialer // overridable for tests
}

// ShellDialer opens an interactive shell session to the switch. The
// production path dials real SSH; tests substitute an in-memory fake.
type ShellDialer interface {
	Open(ctx context.Context, hostPort, user string, cc *ssh.ClientConfig) (io.ReadWriteCloser, error)
}

// Backend drives a switch CLI over SSH per Config.
type Backend struct {
	cfg Config
	log *logrus.Entry
	stps []topology.STP

	mu sync.Mutex // serializes CLI sessions; the shell is not safe for concurrent use

	faults chan nrm.Fault
}

// New constructs a Backend. stps is the static topology this backend
// reports from Topology (SSH-CLI switches have no topology-discovery API
// in scope here; spec.md §4.5 allows a backend's topology job to simply
// re-read the configured file).
func New(cfg Config, stps []topology.STP, log *logrus.Entry) *Backend {
	return &Backend{cfg: cfg, log: log, stps: stps, faults: make(chan nrm.Fault)}
}

// Faults returns a channel that this driver never writes to: the command
// sequences it runs have no side channel for an out-of-band switch alarm,
// unlike the interactive session a production SNMP trap listener or
// streaming-telemetry subscriber would give it.
func (b *Backend) Faults() <-chan nrm.Fault {
	return b.faults
}

func (b *Backend) hostPort() string {
	return fmt.Sprintf("%s:%d", b.cfg.Hostname, b.cfg.Port)
}

// runCommands opens a shell, writes each command followed by a newline,
// and closes the session. It does not parse command output: like the
// reference backends, failure is detected by the SSH round trip erroring,
// not by screen-scraping prompts.
func (b *Backend) runCommands(ctx context.Context, cmds []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var shell, err = b.cfg.Shell.Open(ctx, b.hostPort(), b.cfg.Username, b.cfg.ClientConfig)
	if err != nil {
		return protocol.WrapNsiError(protocol.NamespaceGenericRm, "ssh connect failure", err)
	}
	defer shell.Close()

	var buf bytes.Buffer
	for _, c := range cmds {
		buf.WriteString(c)
		buf.WriteByte('\n')
	}
	if _, err := shell.Write(buf.Bytes()); err != nil {
		return protocol.WrapNsiError(protocol.NamespaceGenericRm, "ssh command write failure", err)
	}
	return nil
}

func (b *Backend) vlanCommands(spec nrm.ReserveSpec, add bool) []string {
	var c = b.cfg.Commands
	var vlanCmd = c.TrunkAddVlan
	if !add {
		vlanCmd = c.TrunkRemVlan
	}
	var createOrDelete = c.CreateVlan
	if !add {
		createOrDelete = c.DeleteVlan
	}
	return []string{
		c.Configure,
		fmt.Sprintf(createOrDelete, spec.SrcVlan),
		c.Exit,
		fmt.Sprintf(c.Interface, spec.SrcSTP.PortID),
		c.ModeTrunk,
		fmt.Sprintf(vlanCmd, spec.SrcVlan),
		c.Exit,
		fmt.Sprintf(c.Interface, spec.DstSTP.PortID),
		c.ModeTrunk,
		fmt.Sprintf(vlanCmd, spec.DstVlan),
		c.Exit,
		c.Commit,
	}
}

// Reserve validates VLAN symmetry and mints a handle; the actual switch
// configuration is deferred to Activate, matching the reference backends
// which only touch the CLI on activate()/deactivate().
func (b *Backend) Reserve(_ context.Context, spec nrm.ReserveSpec) (nrm.CircuitHandle, error) {
	if spec.SrcVlan != spec.DstVlan {
		return "", protocol.NewNsiError(protocol.NamespaceVlanMismatch, "src and dst VLANs must match")
	}
	var handle = nrm.CircuitHandle(fmt.Sprintf("sshcli-%s", spec.ConnectionID))
	b.rememberSpec(handle, spec)
	return handle, nil
}

func (b *Backend) Commit(context.Context, nrm.CircuitHandle) error   { return nil }
func (b *Backend) Abort(context.Context, nrm.CircuitHandle) error    { return nil }
func (b *Backend) Timeout(ctx context.Context, h nrm.CircuitHandle) error {
	return b.Abort(ctx, h)
}
func (b *Backend) Provision(context.Context, nrm.CircuitHandle) error { return nil }
func (b *Backend) Release(context.Context, nrm.CircuitHandle) error   { return nil }

// Activate configures the trunked VLAN on both interfaces.
func (b *Backend) Activate(ctx context.Context, handle nrm.CircuitHandle) error {
	var spec, ok = b.pendingSpec(handle)
	if !ok {
		return protocol.NewNsiError(protocol.NamespaceGenericRm, "unknown circuit handle")
	}
	b.log.WithField("circuit_id", handle).Info("sshcli: activating")
	return b.runCommands(ctx, b.vlanCommands(spec, true))
}

// Deactivate removes the trunked VLAN from both interfaces.
func (b *Backend) Deactivate(ctx context.Context, handle nrm.CircuitHandle) error {
	var spec, ok = b.pendingSpec(handle)
	if !ok {
		return protocol.NewNsiError(protocol.NamespaceGenericRm, "unknown circuit handle")
	}
	b.log.WithField("circuit_id", handle).Info("sshcli: deactivating")
	return b.runCommands(ctx, b.vlanCommands(spec, false))
}

// Terminate deactivates the circuit and forgets it.
func (b *Backend) Terminate(ctx context.Context, handle nrm.CircuitHandle) error {
	var err = b.Deactivate(ctx, handle)
	b.forget(handle)
	return err
}

// Topology returns the statically configured STP set.
func (b *Backend) Topology(context.Context) ([]topology.STP, error) {
	var out = make([]topology.STP, len(b.stps))
	copy(out, b.stps)
	return out, nil
}

// pendingSpec and forget track the ReserveSpec a handle was minted for, so
// Activate/Deactivate know which interfaces and VLANs to touch. A real
// deployment persists this alongside the Connection record (package
// store); it is kept here, in-memory, to isolate package nrm/sshcli's
// concern (talking to the switch) from package store's (durability).
var specsMu sync.Mutex
var specs = make(map[nrm.CircuitHandle]nrm.ReserveSpec)

func (b *Backend) rememberSpec(handle nrm.CircuitHandle, spec nrm.ReserveSpec) {
	specsMu.Lock()
	defer specsMu.Unlock()
	specs[handle] = spec
}

func (b *Backend) pendingSpec(handle nrm.CircuitHandle) (nrm.ReserveSpec, bool) {
	specsMu.Lock()
	defer specsMu.Unlock()
	var s, ok = specs[handle]
	return s, ok
}

func (b *Backend) forget(handle nrm.CircuitHandle) {
	specsMu.Lock()
	defer specsMu.Unlock()
	delete(specs, handle)
}

// realShellDialer dials a real SSH connection and opens an interactive
// shell, the Go analogue of paramiko.SSHClient.invoke_shell().
type realShellDialer struct{}

// RealShellDialer is the production ShellDialer.
var RealShellDialer ShellDialer = realShellDialer{}

func (realShellDialer) Open(ctx context.Context, hostPort, user string, cc *ssh.ClientConfig) (io.ReadWriteCloser, error) {
	var d net.Dialer
	var conn, err = d.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, errors.Wrap(err, "dialing switch")
	}
	var clientConn, chans, reqs, err2 = ssh.NewClientConn(conn, hostPort, cc)
	if err2 != nil {
		return nil, errors.Wrap(err2, "ssh handshake")
	}
	var client = ssh.NewClient(clientConn, chans, reqs)
	var session, err3 = client.NewSession()
	if err3 != nil {
		return nil, errors.Wrap(err3, "opening ssh session")
	}
	var stdin, _ = session.StdinPipe()
	var stdout, _ = session.StdoutPipe()
	if err := session.Shell(); err != nil {
		return nil, errors.Wrap(err, "requesting shell")
	}
	return &sessionShell{session: session, client: client, stdin: stdin, stdout: stdout}, nil
}

type sessionShell struct {
	session *ssh.Session
	client  *ssh.Client
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (s *sessionShell) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *sessionShell) Write(p []byte) (int, error) { return s.stdin.Write(p) }
func (s *sessionShell) Close() error {
	s.session.Close()
	return s.client.Close()
}
