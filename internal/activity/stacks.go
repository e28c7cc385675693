package activity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/provider"
	"github.com/stackdio/stackd/internal/salt"
	"github.com/stackdio/stackd/internal/stack"
)

// ErrTypeStackTask marks a task failure that was already recorded on the
// stack. Workflows do not record it again.
const ErrTypeStackTask = "STACK_TASK_FAILED"

// StackStore is the persistence the stack tasks need.
type StackStore interface {
	stack.Loader
	SetStackStatus(ctx context.Context, stackID int64, u model.StatusUpdate) error
	SaveStackArtifacts(ctx context.Context, stackID int64, a model.Artifacts) error
	DeleteStack(ctx context.Context, stackID int64) error
	UpdateHost(ctx context.Context, h model.Host) error
	DeleteHosts(ctx context.Context, stackID int64, hostIDs []int64) error
	UpdateVolume(ctx context.Context, v model.Volume) error
	SecurityGroupsForDeletion(ctx context.Context, hostIDs []int64) ([]model.SecurityGroup, error)
	DeleteSecurityGroup(ctx context.Context, id int64) error
}

// Salt is the salt command set the tasks drive.
type Salt interface {
	Launch(ctx context.Context, env salt.Env, parallel bool) (*salt.LaunchReport, error)
	Query(ctx context.Context, env salt.Env) (map[string]model.NodeInfo, error)
	Destroy(ctx context.Context, env salt.Env, hostnames []string, parallel bool) error
	Action(ctx context.Context, env salt.Env, action string, hostnames []string) error
	Ping(ctx context.Context, env salt.Env, target string) (map[string]bool, error)
	SyncAll(ctx context.Context, env salt.Env, target string) (*salt.StateReport, error)
	Highstate(ctx context.Context, env salt.Env, target string) (*salt.StateReport, error)
	StateSLS(ctx context.Context, env salt.Env, target, sls string) (*salt.StateReport, error)
	Orchestrate(ctx context.Context, env salt.Env, sls string) (*salt.StateReport, error)
}

// Bootstrapper reinstalls the salt minion on a host.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, address string) error
}

// EventTrigger fires notification events about stacks.
type EventTrigger interface {
	Trigger(ctx context.Context, event, contentType string, objectID int64) ([]model.Notification, error)
}

// StacksConfig tunes the stack tasks.
type StacksConfig struct {
	// ZombieMaxRetries is used when a chain does not set its own.
	ZombieMaxRetries int
	// RetryWait is the pause between attempts of a retried salt command.
	RetryWait time.Duration
}

// Stacks contains the stack tasks. Each task records its progress through
// SetStackStatus and, on failure, records error and returns a non-retryable
// error of type ErrTypeStackTask.
type Stacks struct {
	store     StackStore
	builder   *stack.Builder
	workspace *salt.Workspace
	salt      Salt
	bootstrap Bootstrapper
	providers *provider.Registry
	events    EventTrigger
	cfg       StacksConfig
	logger    zerolog.Logger
}

// NewStacks creates a new Stacks activity struct. bootstrap may be nil, in
// which case zombies are only re-pinged.
func NewStacks(
	store StackStore,
	builder *stack.Builder,
	workspace *salt.Workspace,
	saltClient Salt,
	bootstrap Bootstrapper,
	providers *provider.Registry,
	events EventTrigger,
	cfg StacksConfig,
	logger zerolog.Logger,
) *Stacks {
	if cfg.ZombieMaxRetries <= 0 {
		cfg.ZombieMaxRetries = 3
	}
	return &Stacks{
		store:     store,
		builder:   builder,
		workspace: workspace,
		salt:      saltClient,
		bootstrap: bootstrap,
		providers: providers,
		events:    events,
		cfg:       cfg,
		logger:    logger.With().Str("component", "stack-tasks").Logger(),
	}
}

// ---------- helpers ----------

func heartbeat(ctx context.Context, details ...any) {
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, details...)
	}
}

// wait pauses between retries and gives up early when ctx is done.
func (a *Stacks) wait(ctx context.Context) error {
	if a.cfg.RetryWait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(a.cfg.RetryWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *Stacks) setStatus(ctx context.Context, stackID int64, event, status, detail string) error {
	err := a.store.SetStackStatus(ctx, stackID, model.StatusUpdate{
		Event:  event,
		Status: status,
		Detail: detail,
		Level:  model.LevelInfo,
	})
	if err != nil {
		return fmt.Errorf("set stack %d status %s: %w", stackID, status, err)
	}
	return nil
}

// note appends a history entry without moving the stack's status.
func (a *Stacks) note(ctx context.Context, st *model.Stack, event, detail string) error {
	return a.setStatus(ctx, st.ID, event, st.Status, detail)
}

// fail records err on the stack, fires stack-error and returns the
// non-retryable error that ends the chain.
func (a *Stacks) fail(ctx context.Context, stackID int64, event string, err error) error {
	log := a.logger.With().Int64("stack", stackID).Str("event", event).Logger()
	log.Error().Err(err).Msg("stack task failed")

	uerr := a.store.SetStackStatus(ctx, stackID, model.StatusUpdate{
		Event:  event,
		Status: model.StatusError,
		Detail: err.Error(),
		Level:  model.LevelError,
	})
	if uerr != nil {
		log.Error().Err(uerr).Msg("failed to record task failure")
	} else {
		a.trigger(ctx, model.EventStackError, stackID)
	}
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf("%s: %s", event, err), ErrTypeStackTask, err)
}

func (a *Stacks) trigger(ctx context.Context, event string, stackID int64) {
	if a.events == nil {
		return
	}
	if _, err := a.events.Trigger(ctx, event, model.ContentTypeStack, stackID); err != nil {
		a.logger.Warn().Err(err).Int64("stack", stackID).Str("event", event).Msg("failed to trigger notifications")
	}
}

// load returns the stack and the hosts a task is scoped to.
func (a *Stacks) load(ctx context.Context, stackID int64, hostIDs []int64) (*model.Stack, []model.Host, error) {
	st, err := a.store.GetStack(ctx, stackID)
	if err != nil {
		return nil, nil, err
	}
	hosts, err := a.store.ListHosts(ctx, stackID, hostIDs)
	if err != nil {
		return nil, nil, err
	}
	return st, hosts, nil
}

func hostnames(hosts []model.Host) []string {
	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		names = append(names, h.Hostname)
	}
	return names
}

func hostIDs(hosts []model.Host) []int64 {
	ids := make([]int64, 0, len(hosts))
	for _, h := range hosts {
		ids = append(ids, h.ID)
	}
	return ids
}

// target matches the scoped hosts, or the whole stack when unscoped.
func target(st *model.Stack, scoped []int64, hosts []model.Host) string {
	if scoped == nil {
		return stack.StackTarget(st.ID)
	}
	return stack.HostsTarget(st.ID, hostnames(hosts))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------- launch ----------

// LaunchHosts renders the stack's artifacts and runs salt-cloud against the
// map until every host exists or the retries run out. Hosts that already
// exist are left alone, so the task can be repeated.
func (a *Stacks) LaunchHosts(ctx context.Context, params LaunchHostsParams) error {
	const event = "launch_hosts"
	if err := a.setStatus(ctx, params.StackID, event, model.StatusLaunching, "Launching hosts"); err != nil {
		return err
	}

	faults := stack.FaultsFrom(params.Options)
	artifacts, err := a.builder.Build(ctx, params.StackID, faults)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.store.SaveStackArtifacts(ctx, params.StackID, artifacts); err != nil {
		return fmt.Errorf("save stack %d artifacts: %w", params.StackID, err)
	}
	st, hosts, err := a.load(ctx, params.StackID, nil)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	env, err := a.workspace.Materialize(*st)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}

	var lastErr error
	for attempt := 0; attempt <= params.Options.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := a.wait(ctx); err != nil {
				return err
			}
		}
		heartbeat(ctx, fmt.Sprintf("launch attempt %d", attempt+1))

		report, err := a.salt.Launch(ctx, env, params.Options.Parallel)
		if errors.Is(err, salt.ErrAllNodesExist) {
			lastErr = nil
			break
		}
		if err != nil {
			lastErr = err
			a.logger.Warn().Err(err).Int64("stack", st.ID).Int("attempt", attempt+1).Msg("launch failed")
			continue
		}
		if report.Failed == nil {
			report.Failed = make(map[string]string)
		}
		if attempt == 0 {
			for _, h := range hosts {
				if faults.LaunchFailure(h.Hostname) {
					report.Failed[h.Hostname] = "simulated launch failure"
				}
			}
		}
		if len(report.Failed) == 0 {
			lastErr = nil
			break
		}
		lastErr = fmt.Errorf("failed to launch %s", strings.Join(sortedKeys(report.Failed), ", "))
		a.logger.Warn().Err(lastErr).Int64("stack", st.ID).Int("attempt", attempt+1).Msg("hosts failed to launch")
	}
	if lastErr != nil {
		return a.fail(ctx, st.ID, event, lastErr)
	}

	if _, err := a.reconcile(ctx, st, nil, env, false); err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	return a.setStatus(ctx, st.ID, event, model.StatusLaunching, "Finished launching hosts")
}

// reconcile copies the provider's view onto the host and volume rows. Hosts
// the provider does not report are deleted when removeAbsent is set and
// otherwise left as they are. It returns the absent hostnames.
func (a *Stacks) reconcile(ctx context.Context, st *model.Stack, scoped []int64, env salt.Env, removeAbsent bool) ([]string, error) {
	nodes, err := a.salt.Query(ctx, env)
	if err != nil {
		return nil, err
	}
	hosts, err := a.store.ListHosts(ctx, st.ID, scoped)
	if err != nil {
		return nil, err
	}
	volumes, err := a.store.ListVolumes(ctx, st.ID)
	if err != nil {
		return nil, err
	}

	var (
		absent    []string
		absentIDs []int64
	)
	for _, h := range hosts {
		node, ok := nodes[h.Hostname]
		if !ok {
			absent = append(absent, h.Hostname)
			absentIDs = append(absentIDs, h.ID)
			continue
		}
		h.ApplyNode(node)
		if err := a.store.UpdateHost(ctx, h); err != nil {
			return nil, err
		}
		for _, v := range volumes {
			if v.HostID == nil || *v.HostID != h.ID {
				continue
			}
			id, ok := node.Volumes[v.Device]
			if !ok || id == v.VolumeID {
				continue
			}
			v.VolumeID = id
			if err := a.store.UpdateVolume(ctx, v); err != nil {
				return nil, err
			}
		}
	}
	if removeAbsent && len(absentIDs) > 0 {
		a.logger.Info().Int64("stack", st.ID).Strs("hosts", absent).Msg("removing hosts the provider no longer reports")
		if err := a.store.DeleteHosts(ctx, st.ID, absentIDs); err != nil {
			return nil, err
		}
	}
	return absent, nil
}

// UpdateMetadata refreshes host and volume rows from the provider.
func (a *Stacks) UpdateMetadata(ctx context.Context, params UpdateMetadataParams) error {
	const event = "update_metadata"
	st, err := a.store.GetStack(ctx, params.StackID)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.note(ctx, st, event, "Collecting host metadata from cloud provider"); err != nil {
		return err
	}
	env, err := a.workspace.Materialize(*st)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	absent, err := a.reconcile(ctx, st, params.HostIDs, env, params.RemoveAbsent)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	detail := "Finished collecting host metadata"
	if len(absent) > 0 {
		detail = fmt.Sprintf("%s; not found at provider: %s", detail, strings.Join(absent, ", "))
	}
	return a.note(ctx, st, event, detail)
}

// CureZombies pings the hosts and bootstraps the ones that do not answer
// until they do or the retries run out. Remaining zombies are marked error.
func (a *Stacks) CureZombies(ctx context.Context, params CureZombiesParams) error {
	const event = "cure_zombies"
	st, hosts, err := a.load(ctx, params.StackID, params.HostIDs)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.setStatus(ctx, st.ID, event, model.StatusConfiguring, "Checking for zombie hosts"); err != nil {
		return err
	}
	env, err := a.workspace.Materialize(*st)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	if len(hosts) == 0 {
		return nil
	}

	retries := params.Options.ZombieMaxRetries
	if retries <= 0 {
		retries = a.cfg.ZombieMaxRetries
	}
	faults := stack.FaultsFrom(params.Options)
	tgt := target(st, params.HostIDs, hosts)

	var zombies []model.Host
	for attempt := 0; ; attempt++ {
		heartbeat(ctx, fmt.Sprintf("zombie check %d", attempt+1))
		alive, err := a.salt.Ping(ctx, env, tgt)
		if err != nil {
			return a.fail(ctx, st.ID, event, err)
		}
		zombies = zombies[:0]
		for _, h := range hosts {
			if !alive[h.Hostname] {
				zombies = append(zombies, h)
			}
		}
		if len(zombies) == 0 {
			return nil
		}
		if attempt >= retries {
			break
		}
		a.logger.Info().Int64("stack", st.ID).Strs("hosts", hostnames(zombies)).Int("attempt", attempt+1).Msg("bootstrapping zombie hosts")
		for _, h := range zombies {
			if err := a.bootstrapHost(ctx, h, faults, attempt); err != nil {
				a.logger.Warn().Err(err).Str("host", h.Hostname).Msg("bootstrap failed")
			}
		}
		if err := a.wait(ctx); err != nil {
			return err
		}
	}

	for _, h := range zombies {
		h.Status = model.StatusError
		h.StatusDetail = fmt.Sprintf("Host did not respond after %d bootstrap attempts", retries)
		if err := a.store.UpdateHost(ctx, h); err != nil {
			return err
		}
	}
	return a.fail(ctx, st.ID, event, fmt.Errorf("zombie hosts did not recover: %s", strings.Join(hostnames(zombies), ", ")))
}

func (a *Stacks) bootstrapHost(ctx context.Context, h model.Host, faults stack.Faults, attempt int) error {
	if a.bootstrap == nil {
		return errors.New("no bootstrap key configured")
	}
	if attempt == 0 && faults.SSHFailure(h.Hostname) {
		return fmt.Errorf("simulated ssh failure on %s", h.Hostname)
	}
	return a.bootstrap.Bootstrap(ctx, h.Address())
}
