// Package boilerplate provides the small set of process-startup helpers
// dwarri-gazette's own mainboilerplate package gives every one of its
// cmd/ entrypoints -- fatal-on-error logging and shared config groups --
// reimplemented here since mainboilerplate itself is tied to gazette's
// broker/etcd dispatch and isn't a fit for this single-process provider.
package boilerplate

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Must logs message and cause and exits the process if err is non-nil,
// mirroring mbp.Must's fatal-on-startup-error convention.
func Must(err error, message string, args ...interface{}) {
	if err == nil {
		return
	}
	var fields = make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	logrus.WithFields(fields).WithError(err).Fatal(message)
	os.Exit(1)
}

// LogConfig is the `--log.*` flag group every entrypoint exposes,
// mirroring mbp.LogConfig.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" description:"Logging format (text, json)"`
}

// Configure applies LogConfig to the standard logrus logger.
func (c LogConfig) Configure() {
	if lvl, err := logrus.ParseLevel(c.Level); err == nil {
		logrus.SetLevel(lvl)
	}
	if c.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{})
	}
}

// StoreConfig is the `--store.*` flag group selecting the embedded
// RocksDB data directory.
type StoreConfig struct {
	Dir string `long:"dir" env:"DIR" default:"/var/lib/supa-providerd" description:"RocksDB data directory"`
}

// BackendConfig is the `--backend.*` flag group selecting and
// parametrizing the NRM backend (spec.md §4.5).
type BackendConfig struct {
	Kind         string `long:"kind" env:"KIND" default:"yamlstub" choice:"yamlstub" choice:"sshcli" description:"NRM backend driver"`
	TopologyFile string `long:"topology-file" env:"TOPOLOGY_FILE" default:"topology.yml" description:"Path to the STP topology YAML file"`

	SSHHostname string `long:"ssh-hostname" env:"SSH_HOSTNAME" default:"localhost" description:"sshcli backend: switch hostname"`
	SSHPort     int    `long:"ssh-port" env:"SSH_PORT" default:"22" description:"sshcli backend: switch SSH port"`
	SSHUsername string `long:"ssh-username" env:"SSH_USERNAME" description:"sshcli backend: SSH username"`
	SSHPassword string `long:"ssh-password" env:"SSH_PASSWORD" description:"sshcli backend: SSH password"`
}

// JobConfig is the `--jobs.*` flag group parametrizing the Job Engine.
type JobConfig struct {
	Workers          int `long:"workers" env:"WORKERS" default:"8" description:"Concurrent job worker count"`
	HoldTimeoutSecs  int `long:"hold-timeout-secs" env:"HOLD_TIMEOUT_SECS" default:"120" description:"Reservation hold timeout in seconds"`
}
