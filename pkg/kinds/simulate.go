package kinds

import (
	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/provider"
	"github.com/saaskit/kitdeploy/pkg/provider/memprovider"
)

// gone removes the resource in a memprovider sequence.
const gone = engine.Status(memprovider.Gone)

func seq(statuses ...engine.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// SimulationProfiles returns memprovider profiles that walk every kind
// through its real status vocabulary.
func SimulationProfiles() map[string]memprovider.Profile {
	return map[string]memprovider.Profile{
		ComputeServiceKind: {
			Create: seq(ComputeInProgress, ComputeInProgress, ComputeRunning),
			Update: seq(ComputeInProgress, ComputeInProgress, ComputeRunning),
			Delete: seq(ComputeInProgress, ComputeDeleted),
			Actions: map[string][]string{
				provider.ActionPause:  seq(ComputeInProgress, ComputePaused),
				provider.ActionResume: seq(ComputeInProgress, ComputeRunning),
			},
		},
		ScalingRevisionKind: {
			Create: seq("ACTIVE"),
		},
		FunctionKind: {
			Create: seq(FunctionPending, FunctionActive),
			Update: seq(FunctionPending, FunctionActive),
			Delete: seq(FunctionActive, gone),
		},
		QueueKind: {
			Create: seq(QueueCreating, QueueReady),
			Update: seq(QueueReady),
			Delete: seq(QueueDeleting, gone),
		},
		TableKind: {
			Create: seq(TableCreating, TableCreating, TableActive),
			Update: seq(TableUpdating, TableActive),
			Delete: seq(TableDeleting, gone),
		},
		ScheduledJobKind: {
			Create: seq(JobUpdating, JobEnabled),
			Update: seq(JobUpdating, JobEnabled),
			Delete: seq(JobUpdating, gone),
			Actions: map[string][]string{
				provider.ActionPause:  seq(JobUpdating, JobDisabled),
				provider.ActionResume: seq(JobUpdating, JobEnabled),
			},
		},
		RoleKind: {
			Create: seq(RoleCreating, RoleReady),
			Update: seq(RoleReady),
		},
	}
}

// NewSimulator returns an in-memory provider loaded with SimulationProfiles.
func NewSimulator(opts ...memprovider.Option) *memprovider.Provider {
	all := make([]memprovider.Option, 0, len(opts)+7)
	for kind, p := range SimulationProfiles() {
		all = append(all, memprovider.WithProfile(kind, p))
	}
	return memprovider.New(append(all, opts...)...)
}
