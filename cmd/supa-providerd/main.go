// Command supa-providerd is the NSI-CS 2.1 Connection Control Core
// provider daemon: it wires the Connection Store, Job Engine, NRM
// backend, Requester client, Timer subsystem, and message processors
// together and runs until terminated. Its flag/command layout follows
// dwarri-gazette's examples/word-count/wordcountctl entrypoint: a single
// top-level Config struct of flag groups, parsed with jessevdk/go-flags.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"go.nsi.dev/provider/internal/boilerplate"
	"go.nsi.dev/provider/jobqueue"
	"go.nsi.dev/provider/nrm"
	"go.nsi.dev/provider/nrm/sshcli"
	"go.nsi.dev/provider/nrm/yamlstub"
	"go.nsi.dev/provider/process"
	"go.nsi.dev/provider/requester"
	"go.nsi.dev/provider/store/rocksdb"
	"go.nsi.dev/provider/timer"
	"go.nsi.dev/provider/topology"
)

// Config is the full flag/env surface of supa-providerd.
var Config = new(struct {
	Log     boilerplate.LogConfig     `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Store   boilerplate.StoreConfig   `group:"Store" namespace:"store" env-namespace:"STORE"`
	Backend boilerplate.BackendConfig `group:"Backend" namespace:"backend" env-namespace:"BACKEND"`
	Jobs    boilerplate.JobConfig     `group:"Jobs" namespace:"jobs" env-namespace:"JOBS"`
})

type cmdServe struct{}

func (cmd *cmdServe) Execute([]string) error {
	Config.Log.Configure()
	var log = logrus.WithField("process", "supa-providerd")

	var stps, err = topology.LoadFile(Config.Backend.TopologyFile)
	boilerplate.Must(err, "failed to load topology file", "path", Config.Backend.TopologyFile)
	var topoCache = topology.NewCache(stps)

	var db, sErr = rocksdb.Open(Config.Store.Dir)
	boilerplate.Must(sErr, "failed to open store", "dir", Config.Store.Dir)
	defer db.Close()

	var backend = selectBackend(topoCache, stps, log)

	var engine = jobqueue.NewEngine(db, Config.Jobs.Workers, log)
	var sender = requester.NewGRPCSender()
	defer sender.Close()
	var req = requester.New(engine, sender, db, requester.DefaultConfig(), log)
	var tmr = timer.New(engine, db, log)

	var proc = &process.Processor{
		CS:          db,
		JS:          db,
		Engine:      engine,
		Backend:     backend,
		Topology:    topoCache,
		Requester:   req,
		Timers:      tmr,
		Log:         log,
		HoldTimeout: time.Duration(Config.Jobs.HoldTimeoutSecs) * time.Second,
	}
	proc.Register()

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	boilerplate.Must(engine.Recover(ctx), "failed to recover persisted jobs")
	engine.Start(ctx)
	defer engine.Stop()
	proc.WatchFaults(ctx)

	log.WithFields(logrus.Fields{
		"backend": Config.Backend.Kind,
		"workers": Config.Jobs.Workers,
	}).Info("supa-providerd started")

	var sig = make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("supa-providerd shutting down")
	return nil
}

func selectBackend(topoCache *topology.Cache, stps []topology.STP, log *logrus.Entry) nrm.Backend {
	switch Config.Backend.Kind {
	case "sshcli":
		return sshcli.New(sshcli.Config{
			Hostname: Config.Backend.SSHHostname,
			Port:     Config.Backend.SSHPort,
			Username: Config.Backend.SSHUsername,
			Commands: sshcli.AristaEOS4(),
			Shell:    sshcli.RealShellDialer,
		}, stps, log)
	default:
		return yamlstub.New(stps, log)
	}
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	var _, err = parser.AddCommand("serve", "Run the provider daemon",
		"Start the Connection Control Core provider and block until terminated", &cmdServe{})
	boilerplate.Must(err, "failed to add serve command")

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
