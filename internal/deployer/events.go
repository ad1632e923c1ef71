package deployer

import (
	"log/slog"
	"sync"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
)

type eventKind int

const (
	kindStart eventKind = iota
	kindEnd
)

type commandKey struct {
	kind    eventKind
	command string
}

// Commands outside this table produce no log line; new node commands do not
// need a dispatcher change to be safe.
var commandMessages = map[commandKey]string{
	{kindStart, cluster.CmdDeploy}:   "attempting to deploy",
	{kindStart, cluster.CmdUndeploy}: "attempting to undeploy",
	{kindEnd, cluster.CmdDeploy}:     "successfully deployed",
	{kindEnd, cluster.CmdUndeploy}:   "successfully undeployed",
}

// Dispatcher turns cluster progress events into log lines and forwards
// them to subscribers.
type Dispatcher struct {
	log       *slog.Logger
	mu        sync.RWMutex
	observers []cluster.ProgressFunc
}

// NewDispatcher creates a Dispatcher logging to log, with no subscribers.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

// Subscribe adds fn to the observers notified of every event.
func (d *Dispatcher) Subscribe(fn cluster.ProgressFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// Dispatch is the callback registered with the cluster client.
func (d *Dispatcher) Dispatch(ev cluster.ProgressEvent) {
	switch e := ev.(type) {
	case cluster.UploadEvent:
		d.upload(e)
	case cluster.CommandStartEvent:
		d.command(kindStart, e.Command, e.Args, e.Node)
	case cluster.CommandEndEvent:
		d.command(kindEnd, e.Command, e.Args, e.Node)
	}

	d.mu.RLock()
	observers := d.observers
	d.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}

func (d *Dispatcher) upload(e cluster.UploadEvent) {
	code := logging.Code(logging.PROGRESS)
	// An empty artifact is reported once, with Position == Total == 0.
	switch {
	case e.Position == 0 && e.Total == 0:
		d.log.Info("starting to upload", code, "file", e.Filename, "url", e.URL, "bytes", e.Total)
		d.log.Info("completed uploading", code, "file", e.Filename, "url", e.URL)
	case e.Position == 0:
		d.log.Info("starting to upload", code, "file", e.Filename, "url", e.URL, "bytes", e.Total)
	case e.Position == e.Total:
		d.log.Info("completed uploading", code, "file", e.Filename, "url", e.URL)
	default:
		d.log.Debug("upload progress", code, "file", e.Filename, "url", e.URL, "position", e.Position, "total", e.Total)
	}
}

func (d *Dispatcher) command(kind eventKind, command string, args []string, node string) {
	msg, ok := commandMessages[commandKey{kind, command}]
	if !ok {
		return
	}
	var target string
	if len(args) > 0 {
		target = args[0]
		if command == cluster.CmdDeploy && len(args) > 1 {
			target = args[1]
		}
	}
	d.log.Info(msg, logging.Code(logging.PROGRESS), "context", target, "node", node)
}
