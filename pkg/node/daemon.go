// Package node wires every coordination-fabric component into a single
// running process: the background workers (Heartbeat Engine, Command
// Channel, Job Store, Submission Intake, Datagram listener) each own their
// own goroutine and ticker, while the Dispatch Engine and Render Supervisor
// share one main-loop thread that ticks on a fixed cadence, per spec §5's
// scheduling model.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smallrender/core/pkg/atomicstore"
	"github.com/smallrender/core/pkg/bootstrap"
	"github.com/smallrender/core/pkg/commandchannel"
	"github.com/smallrender/core/pkg/config"
	"github.com/smallrender/core/pkg/dispatch"
	"github.com/smallrender/core/pkg/heartbeat"
	"github.com/smallrender/core/pkg/jobstore"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/localdb"
	"github.com/smallrender/core/pkg/log"
	"github.com/smallrender/core/pkg/metrics"
	"github.com/smallrender/core/pkg/monitorlog"
	"github.com/smallrender/core/pkg/nodeid"
	"github.com/smallrender/core/pkg/opsapi"
	"github.com/smallrender/core/pkg/rendersupervisor"
	"github.com/smallrender/core/pkg/submission"
	"github.com/smallrender/core/pkg/template"
	"github.com/smallrender/core/pkg/udpwake"
)

// tickInterval is the Dispatch Engine/Render Supervisor main-loop cadence.
const tickInterval = 250 * time.Millisecond

// submitRelayInterval bounds how often the main loop checks the local
// app-data directory for a submit_request.json dropped by a second `submit`
// invocation that lost the single-instance rendezvous to this daemon.
const submitRelayInterval = 3 * time.Second

// rendezvousName is the bbolt bookkeeping key this daemon claims while
// running, recording itself as the live owner of the local db's exclusive
// file lock (the lock itself, not this key, is what a `submit` invocation
// actually contends on — see cli.runSubmit).
const rendezvousName = "node"

// AppVersion is set by cmd/smallrender at build time (ldflags) and
// recorded on farm.json and every heartbeat.
var AppVersion = "dev"

// Daemon owns every component's lifecycle for one running node.
type Daemon struct {
	cfg      config.Config
	selfID   string
	appDir   string
	agentBin string

	db        *localdb.DB
	monitor   *monitorlog.Monitor
	heartbeat *heartbeat.Engine
	commands  *commandchannel.Channel
	jobs      *jobstore.Store
	templates *template.Registry
	intake    *submission.Intake

	supervisor     *rendersupervisor.Supervisor
	dispatchEngine *dispatch.Engine

	udpSender   *udpwake.Sender
	udpListener *udpwake.Listener

	collector *metrics.Collector
	ops       *opsapi.Server

	stopCh chan struct{}
	doneCh chan struct{}

	lastSubmitRelay time.Time
}

// New assembles every component for this node but starts nothing. appDir
// is the local app-data directory (never inside the farm root); agentBin
// is the path to the renderer-agent binary the Render Supervisor spawns
// per chunk.
func New(cfg config.Config, appDir, agentBin string) (*Daemon, error) {
	nodeIDPath := config.NodeIDFile(appDir)
	selfID, err := nodeid.LoadOrCreate(nodeIDPath)
	if err != nil {
		return nil, fmt.Errorf("load node id: %w", err)
	}

	now := time.Now()
	res, err := bootstrap.Init(cfg.SyncRoot, selfID, AppVersion, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("farm bootstrap: %w", err)
	}

	db, err := localdb.Open(appDir)
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}

	monitor := monitorlog.New(cfg.SyncRoot, selfID, 500)
	logger := log.WithComponent("node")
	logger.Info().Bool("farm_created", res.Created).Bool("examples_resynced", res.ExamplesResynced).
		Str("node_id", selfID).Msg("daemon initializing")
	monitor.Info("node", "daemon initializing")

	hardware := nodeid.QueryInfo(AppVersion)
	timing := cfg.EffectiveTiming()

	hb := heartbeat.New(cfg.SyncRoot, selfID, hardware, timing, cfg.IsCoordinator)
	hb.SetTags(cfg.Tags)

	var udpSender *udpwake.Sender
	if cfg.UDPEnabled {
		s, err := udpwake.NewSender(selfID, cfg.UDPGroup, cfg.UDPPort)
		if err != nil {
			logger.Warn().Err(err).Msg("datagram wake sender unavailable, falling back to pure polling")
		} else {
			udpSender = s
		}
	}

	commands := commandchannel.New(cfg.SyncRoot, selfID, db, notifierOrNil(udpSender), 256)
	jobs := jobstore.New(cfg.SyncRoot)
	templates := template.NewRegistry(layout.TemplatesDir(cfg.SyncRoot))

	var intake *submission.Intake
	if cfg.IsCoordinator {
		intake = submission.New(cfg.SyncRoot, db, jobs, templates.Lookup)
	}

	d := &Daemon{
		cfg: cfg, selfID: selfID, appDir: appDir, agentBin: agentBin,
		db: db, monitor: monitor, heartbeat: hb, commands: commands,
		jobs: jobs, templates: templates, intake: intake,
		udpSender: udpSender,
		stopCh:    make(chan struct{}), doneCh: make(chan struct{}),
	}

	factory := rendersupervisor.NewProcessAgentFactory(context.Background(), agentBin)
	d.supervisor = rendersupervisor.New(cfg.SyncRoot, selfID, jobs, factory, &deferredSink{d: d})
	router := rendersupervisor.NewRouter(cfg.SyncRoot, selfID, d.supervisor, notifierOrNil(udpSender))

	if cfg.IsCoordinator {
		liveness := newLivenessAdapter(hb, selfID)
		staleThresholdMS := 2 * timing.DeadThresholdScans * timing.BeatIntervalMS
		if staleThresholdMS < 60000 {
			staleThresholdMS = 60000
		}
		opts := dispatch.Options{StaleThreshold: time.Duration(staleThresholdMS) * time.Millisecond}
		d.dispatchEngine = dispatch.New(cfg.SyncRoot, selfID, jobs, liveness, router, opts)
	}

	if cfg.UDPEnabled {
		l, err := udpwake.NewListener(selfID, cfg.UDPGroup, cfg.UDPPort, commands, intakeOrNil(intake), jobs)
		if err != nil {
			logger.Warn().Err(err).Msg("datagram wake listener unavailable, falling back to pure polling")
		} else {
			d.udpListener = l
		}
	}

	d.collector = metrics.NewCollector(hb, jobs, dispatchSourceOrNil(d.dispatchEngine))
	d.ops = opsapi.NewServer("127.0.0.1:9191")

	return d, nil
}

// Start launches every background worker and the main-loop thread.
func (d *Daemon) Start() error {
	if _, err := d.db.TryAcquireRendezvous(rendezvousName, d.selfID, time.Now()); err != nil {
		log.WithComponent("node").Warn().Err(err).Msg("rendezvous bookkeeping claim failed")
	}

	d.heartbeat.Start()
	d.commands.Start()
	d.jobs.Start()
	if d.intake != nil {
		d.intake.Start()
	}
	if d.udpListener != nil {
		d.udpListener.Start()
	}
	if d.dispatchEngine != nil {
		d.dispatchEngine.Recover()
	}
	if err := d.templates.Reload(); err != nil {
		log.WithComponent("node").Warn().Err(err).Msg("initial template reload failed")
	}
	d.collector.Start()
	if err := d.ops.Start(); err != nil {
		return fmt.Errorf("start opsapi server: %w", err)
	}

	go d.run()
	return nil
}

// Stop signals the main loop to exit, writes a final stopped heartbeat,
// and halts every background worker, in roughly reverse dependency order.
func (d *Daemon) Stop() {
	close(d.stopCh)
	<-d.doneCh

	d.ops.Stop()
	d.collector.Stop()
	if d.udpListener != nil {
		d.udpListener.Stop()
	}
	if d.intake != nil {
		d.intake.Stop()
	}
	d.jobs.Stop()
	d.commands.Stop()
	d.heartbeat.Stop()
	if d.udpSender != nil {
		_ = d.udpSender.Close()
	}
	_ = d.monitor.Close()
	if err := d.db.ReleaseRendezvous(rendezvousName); err != nil {
		log.WithComponent("node").Warn().Err(err).Msg("rendezvous bookkeeping release failed")
	}
	_ = d.db.Close()
}

func (d *Daemon) run() {
	defer close(d.doneCh)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.tick()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Daemon) tick() {
	stopped := d.heartbeat.Self().NodeState == heartbeat.NodeStateStopped
	d.drainActions()
	if d.dispatchEngine != nil {
		d.dispatchEngine.Tick(stopped)
	}
	d.supervisor.Tick()
	d.heartbeat.SetRenderState(renderStateFor(d.supervisor.Status().State))

	now := time.Now()
	if now.Sub(d.lastSubmitRelay) >= submitRelayInterval {
		d.relaySubmitRequest()
		d.lastSubmitRelay = now
	}
}

// relaySubmitRequest picks up a submit_request.json a `submit` CLI
// invocation dropped in the local app-data directory after losing the
// single-instance rendezvous to this already-running daemon, and forwards
// it into the farm root's submissions inbox the same way a direct
// first-instance submit would have.
func (d *Daemon) relaySubmitRequest() {
	path := config.SubmitRequestFile(d.appDir)

	var sub submission.Submission
	ok, err := atomicstore.ReadJSON(path, &sub)
	if err != nil {
		log.WithComponent("node").Error().Err(err).Msg("failed to read relayed submit request")
		return
	}
	if !ok {
		return
	}

	name := fmt.Sprintf("%d_relayed.json", time.Now().UnixMilli())
	dest := filepath.Join(layout.SubmissionsDir(d.cfg.SyncRoot), name)
	if err := atomicstore.WriteJSON(dest, sub); err != nil {
		log.WithComponent("node").Error().Err(err).Msg("failed to relay submit request into submissions inbox")
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithComponent("node").Warn().Err(err).Msg("failed to remove consumed submit request")
	}
	if d.intake != nil {
		d.intake.Wake()
	}
}

func renderStateFor(s rendersupervisor.State) heartbeat.RenderState {
	if s == rendersupervisor.StateIdle {
		return heartbeat.RenderStateIdle
	}
	return heartbeat.RenderStateRendering
}

// SelfID returns this node's stable identity.
func (d *Daemon) SelfID() string { return d.selfID }

// SubmitJob bakes and submits a job directly into this daemon's Job Store,
// bypassing the submissions/ filesystem inbox.
func (d *Daemon) SubmitJob(templateID, jobName string, opts template.BakeOptions, priority int, submittedBy string) (string, error) {
	tpl, ok := d.templates.Lookup(templateID)
	if !ok {
		return "", fmt.Errorf("unknown template %q", templateID)
	}
	manifest, err := template.Bake(tpl, opts)
	if err != nil {
		return "", fmt.Errorf("bake manifest: %w", err)
	}
	return d.jobs.SubmitJob(jobName, manifest, priority, submittedBy)
}

func notifierOrNil(s *udpwake.Sender) commandchannel.Notifier {
	if s == nil {
		return nil
	}
	return s
}

func intakeOrNil(in *submission.Intake) udpwake.SubmissionWaker {
	if in == nil {
		return nil
	}
	return in
}

func dispatchSourceOrNil(e *dispatch.Engine) metrics.DispatchSource {
	if e == nil {
		return nil
	}
	return e
}

// deferredSink routes a local chunk outcome either straight into this
// node's own Dispatch Engine (coordinator) or over the Command Channel to
// whichever peer currently reports itself as coordinator (worker). It
// resolves which path applies at report time, since Tick may run before
// an in-progress coordinator election settles.
type deferredSink struct{ d *Daemon }

func (s *deferredSink) Report(r rendersupervisor.CompletionReport) {
	if s.d.dispatchEngine != nil {
		s.d.dispatchEngine.LocalCompletions() <- dispatch.CompletionReport{
			JobID: r.JobID, FrameStart: r.FrameStart, FrameEnd: r.FrameEnd,
			NodeID: r.NodeID, Failed: r.Failed, Reason: r.Reason,
		}
		return
	}
	remote := rendersupervisor.NewRemoteSink(s.d.cfg.SyncRoot, s.d.selfID, func() string {
		return coordinatorID(s.d.heartbeat, s.d.selfID)
	}, notifierOrNil(s.d.udpSender))
	remote.Report(r)
}
