package node

import (
	"github.com/smallrender/core/pkg/commandchannel"
	"github.com/smallrender/core/pkg/dispatch"
	"github.com/smallrender/core/pkg/log"
	"github.com/smallrender/core/pkg/metrics"
	"github.com/smallrender/core/pkg/rendersupervisor"
)

// drainActions consumes every Action currently buffered on the Command
// Channel's queue without blocking, applying each to the local Render
// Supervisor and, when this node is the coordinator, the Dispatch Engine's
// remote-completions queue.
func (d *Daemon) drainActions() {
	for {
		select {
		case a := <-d.commands.Actions():
			d.applyAction(a)
		default:
			return
		}
	}
}

func (d *Daemon) applyAction(a commandchannel.Action) {
	logger := log.WithComponent("node").With().Str("msg_id", a.MsgID).Logger()
	metrics.CommandsProcessedTotal.WithLabelValues(string(a.Type)).Inc()

	switch a.Type {
	case commandchannel.TypeAssignChunk:
		d.supervisor.Dispatch(rendersupervisor.Assignment{JobID: a.JobID, FrameStart: a.FrameStart, FrameEnd: a.FrameEnd})

	case commandchannel.TypeAbortChunk:
		d.supervisor.Abort(a.Reason)

	case commandchannel.TypeStopJob:
		d.supervisor.Abort("stop_job: " + a.JobID)

	case commandchannel.TypeStopAll:
		d.supervisor.SetStopped(true)
		d.supervisor.Abort("stop_all")

	case commandchannel.TypeResumeAll:
		d.supervisor.SetStopped(false)

	case commandchannel.TypeChunkCompleted, commandchannel.TypeChunkFailed:
		if d.dispatchEngine == nil {
			logger.Warn().Msg("received chunk outcome report but this node is not the coordinator")
			return
		}
		d.dispatchEngine.RemoteCompletions() <- dispatch.CompletionReport{
			JobID: a.JobID, FrameStart: a.FrameStart, FrameEnd: a.FrameEnd,
			NodeID: a.From, Failed: a.Type == commandchannel.TypeChunkFailed, Reason: a.Reason,
		}

	default:
		logger.Warn().Str("type", string(a.Type)).Msg("unrecognized command type")
	}
}
