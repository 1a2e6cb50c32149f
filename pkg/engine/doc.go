// Package engine reconciles remote SaaS resources against a desired
// configuration.
//
// # Overview
//
// Every resource kind goes through the same lifecycle, driven by the
// Reconciler:
//
//  1. Discover - find the single resource tagged with the component's
//     (deployment, component) pair (FindOne)
//  2. Decide - create when absent, otherwise compute the changed attribute
//     groups (DiffGroups); an empty ChangeSet is a no-op
//  3. Apply - issue one Create or one Update call carrying the changed groups
//  4. Tag - attach the component, deployment, region, version and
//     lastUpdated tags
//  5. Converge - poll until the provider reports the terminal status
//     (Poller.Converge)
//  6. Verify - re-read the update marker to detect silent rollbacks
//
// Kinds that mint quota-limited revisions (RevisionManager) get their unused
// revisions deleted before a new one is minted (OrphanCleaner). Pausable
// kinds additionally support Start and Stop.
//
// # Kinds
//
// A resource kind is a thin adapter implementing Kind:
//
//	type Kind interface {
//	    Lister
//	    Name() string
//	    Get(ctx context.Context, id string) (*ObservedResource, error)
//	    Create(ctx context.Context, name string, desired DesiredConfig, tags Tags) (*ObservedResource, error)
//	    Update(ctx context.Context, current *ObservedResource, changes ChangeSet, desired DesiredConfig) error
//	    Delete(ctx context.Context, id string) error
//	    Tag(ctx context.Context, id string, tags Tags) error
//	    AttributeGroups() []AttributeGroup
//	    ConvergenceSpec(op OperationType) ConvergenceSpec
//	    MarkerKey() string
//	    Lifecycle(status Status) ResourceStatus
//	}
//
// # Convergence
//
// The Poller sleeps on an injected clock between polls following a
// BackoffSchedule. Only the kind's in-progress status may precede the
// terminal one; anything else aborts immediately. Running out of MaxWait is
// reported as OutcomeTimedOut and the caller decides whether that is fatal.
//
// # Error Classification
//
// Errors are classified for retry and exit handling:
//
//   - Transient: Temporary failures that may succeed on retry
//   - Throttled: Rate limiting that requires backoff
//   - Conflict: Resource conflicts requiring retry
//   - Permanent: Failures of this call that retrying will not fix
//   - Fatal: The deployment must stop and an operator must act; the error
//     carries the observed and expected status and a remediation hint
//
// Fatal errors are returned, never turned into a process exit; the command
// line front end maps them to a distinct exit code.
//
// # Concurrency
//
// Reconcilers for different components share nothing and may run
// concurrently. Runner executes caller-ordered stages, running the tasks of
// one stage on a bounded errgroup.
package engine
