package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.temporal.io/api/serviceerror"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/stackdio/stackd/internal/metrics"
	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/platform"
	"github.com/stackdio/stackd/internal/provider"
	"github.com/stackdio/stackd/internal/stack"
)

// CreateStackParams describes a new stack.
type CreateStackParams struct {
	OwnerID     int64
	BlueprintID int64
	Title       string
	Description string
	Namespace   string
	Options     *model.WorkflowOptions
}

type StackService struct {
	store     StackStore
	builder   ArtifactBuilder
	providers *provider.Registry
	tc        temporalclient.Client
	taskQueue string
	defaults  model.WorkflowOptions
	logger    zerolog.Logger
}

// NewStackService creates a StackService. Chains are started on taskQueue
// with defaults unless a request carries its own options.
func NewStackService(store StackStore, builder ArtifactBuilder, providers *provider.Registry, tc temporalclient.Client, taskQueue string, defaults model.WorkflowOptions, logger zerolog.Logger) *StackService {
	return &StackService{
		store:     store,
		builder:   builder,
		providers: providers,
		tc:        tc,
		taskQueue: taskQueue,
		defaults:  defaults,
		logger:    logger.With().Str("component", "stack-service").Logger(),
	}
}

func (s *StackService) Get(ctx context.Context, id int64) (*model.Stack, error) {
	return s.store.GetStack(ctx, id)
}

func (s *StackService) History(ctx context.Context, id int64) ([]model.StackHistory, error) {
	if _, err := s.store.GetStack(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListStackHistory(ctx, id)
}

func (s *StackService) Hosts(ctx context.Context, id int64) ([]model.Host, error) {
	if _, err := s.store.GetStack(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListHosts(ctx, id, nil)
}

// Create inserts a stack with the hosts of its blueprint, renders its
// artifacts and starts the launch chain.
func (s *StackService) Create(ctx context.Context, params CreateStackParams) (*model.Stack, error) {
	title := strings.TrimSpace(params.Title)
	namespace := strings.ToLower(strings.TrimSpace(params.Namespace))
	if title == "" || namespace == "" {
		return nil, fmt.Errorf("%w: title and namespace are required", model.ErrInvalidInput)
	}
	bp, err := s.store.GetBlueprint(ctx, params.BlueprintID)
	if err != nil {
		return nil, err
	}
	opts := s.options(params.Options)

	bp = withDefinitions(bp)
	for i := range bp.HostDefinitions {
		if err := s.prepareDefinition(ctx, &bp.HostDefinitions[i], namespace); err != nil {
			return nil, err
		}
	}

	st := &model.Stack{
		OwnerID:      params.OwnerID,
		BlueprintID:  bp.ID,
		Title:        title,
		Description:  params.Description,
		Namespace:    namespace,
		Status:       model.StatusPending,
		StatusDetail: "Stack created",
	}
	if err := s.store.CreateStack(ctx, st, stack.HostsFromBlueprint(bp, namespace)); err != nil {
		return nil, err
	}
	// The stack row is committed. Failures past this point leave it in
	// error so that it can still be relaunched or deleted.
	if err := s.rebuild(ctx, st.ID, opts); err != nil {
		s.markError(ctx, st.ID, "create", err)
		return nil, err
	}
	if err := s.startChain(ctx, model.ChainRequest{StackID: st.ID, Intent: model.IntentLaunch, Options: opts}); err != nil {
		s.markError(ctx, st.ID, "create", err)
		return nil, err
	}
	s.logger.Info().Int64("stack", st.ID).Str("title", st.Title).Int64("blueprint", bp.ID).Msg("stack created")
	return st, nil
}

// RunAction starts the chain of a stack action. The stack must be idle, every
// provider of its hosts must offer the action and every host must be in a
// state the action can start from.
func (s *StackService) RunAction(ctx context.Context, stackID int64, action string, args model.ActionArgs) error {
	if action == model.ActionSingleSLS && args.Component == "" {
		return fmt.Errorf("%w: %s needs a component", model.ErrInvalidInput, action)
	}
	st, err := s.idleStack(ctx, stackID)
	if err != nil {
		return err
	}
	if !knownAction(action) {
		return fmt.Errorf("action %q: %w", action, model.ErrActionUnavailable)
	}

	hosts, err := s.store.ListHosts(ctx, st.ID, nil)
	if err != nil {
		return err
	}
	groups, err := s.providers.GroupHosts(ctx, s.store, hosts)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if !provider.Supports(g.Driver, action) {
			return fmt.Errorf("action %q on provider %s: %w", action, g.Driver.Name(), model.ErrActionUnavailable)
		}
	}
	for _, g := range groups {
		for _, h := range g.Hosts {
			if !provider.ValidState(g.Driver, action, h.State) {
				return fmt.Errorf("action %q: host %s is %s: %w", action, h.Hostname, h.State, model.ErrInvalidHostState)
			}
		}
	}

	return s.startChain(ctx, model.ChainRequest{
		StackID: st.ID,
		Intent:  model.IntentAction,
		Action:  action,
		Args:    args,
		Options: s.defaults,
	})
}

// AddHosts creates count more hosts of a host definition and launches only
// them.
func (s *StackService) AddHosts(ctx context.Context, stackID, definitionID int64, count int) ([]model.Host, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be positive", model.ErrInvalidInput)
	}
	st, err := s.idleStack(ctx, stackID)
	if err != nil {
		return nil, err
	}
	bp, err := s.store.GetBlueprint(ctx, st.BlueprintID)
	if err != nil {
		return nil, err
	}
	def, ok := bp.HostDefinition(definitionID)
	if !ok {
		return nil, fmt.Errorf("host definition %d of blueprint %d: %w", definitionID, bp.ID, model.ErrNotFound)
	}
	existing, err := s.store.ListHosts(ctx, st.ID, nil)
	if err != nil {
		return nil, err
	}

	if err := s.prepareDefinition(ctx, &def, st.Namespace); err != nil {
		return nil, err
	}
	specs := stack.HostsFromDefinition(def, st.Namespace, stack.NextIndex(existing, def.ID), count)
	if err := s.store.CreateHosts(ctx, st.ID, specs); err != nil {
		return nil, err
	}
	if err := s.rebuild(ctx, st.ID, s.defaults); err != nil {
		return nil, err
	}

	hosts := make([]model.Host, len(specs))
	ids := make([]int64, len(specs))
	for i, spec := range specs {
		hosts[i] = spec.Host
		ids[i] = spec.Host.ID
	}
	if err := s.startChain(ctx, model.ChainRequest{StackID: st.ID, Intent: model.IntentLaunch, HostIDs: ids, Options: s.defaults}); err != nil {
		return nil, err
	}
	return hosts, nil
}

// RemoveHosts destroys the given hosts and keeps the rest of the stack.
func (s *StackService) RemoveHosts(ctx context.Context, stackID int64, hostIDs []int64) error {
	if len(hostIDs) == 0 {
		return fmt.Errorf("%w: no hosts given", model.ErrInvalidInput)
	}
	st, err := s.idleStack(ctx, stackID)
	if err != nil {
		return err
	}
	hosts, err := s.store.ListHosts(ctx, st.ID, hostIDs)
	if err != nil {
		return err
	}
	if len(hosts) != len(hostIDs) {
		return fmt.Errorf("hosts %v of stack %d: %w", hostIDs, st.ID, model.ErrNotFound)
	}
	return s.startChain(ctx, model.ChainRequest{StackID: st.ID, Intent: model.IntentDestroyHosts, HostIDs: hostIDs, Options: s.defaults})
}

// Delete marks the stack as destroying and starts its teardown.
func (s *StackService) Delete(ctx context.Context, stackID int64) error {
	st, err := s.idleStack(ctx, stackID)
	if err != nil {
		return err
	}
	if err := s.store.SetStackStatus(ctx, st.ID, model.StatusUpdate{
		Event:  "delete",
		Status: model.StatusDestroying,
		Detail: "Stack is being destroyed",
	}); err != nil {
		return err
	}

	err = s.startChain(ctx, model.ChainRequest{StackID: st.ID, Intent: model.IntentDestroyStack, Options: s.defaults})
	if err != nil {
		// Nothing will move the stack out of destroying otherwise.
		s.markError(ctx, st.ID, "delete", err)
		return err
	}
	return nil
}

// markError records a failed request on the stack. The stack is left in a
// safe state so the user can retry or delete it.
func (s *StackService) markError(ctx context.Context, stackID int64, event string, cause error) {
	if err := s.store.SetStackStatus(ctx, stackID, model.StatusUpdate{
		Event:  event,
		Status: model.StatusError,
		Detail: cause.Error(),
		Level:  model.LevelError,
	}); err != nil {
		s.logger.Error().Err(err).Int64("stack", stackID).Str("event", event).Msg("failed to record stack failure")
	}
}

func (s *StackService) idleStack(ctx context.Context, stackID int64) (*model.Stack, error) {
	st, err := s.store.GetStack(ctx, stackID)
	if err != nil {
		return nil, err
	}
	if !model.IsSafeState(st.Status) {
		return nil, fmt.Errorf("stack %d is %s: %w", st.ID, st.Status, model.ErrStackBusy)
	}
	return st, nil
}

// prepareDefinition checks a host definition against its provider before
// hosts are created from it. When the cloud account manages security groups
// the stack's group for the definition is created if missing and attached.
func (s *StackService) prepareDefinition(ctx context.Context, def *model.HostDefinition, namespace string) error {
	acct, err := s.store.GetCloudAccount(ctx, def.CloudAccountID)
	if err != nil {
		return err
	}
	d, err := s.providers.For(*acct)
	if err != nil {
		return err
	}

	if def.Image != "" {
		ok, err := d.HasImage(ctx, def.Image)
		switch {
		case errors.Is(err, provider.ErrNotSupported):
		case err != nil:
			return fmt.Errorf("host definition %s: look up image %s: %w", def.Title, def.Image, err)
		case !ok:
			return fmt.Errorf("%w: image %s is not available on cloud account %s", model.ErrInvalidInput, def.Image, acct.Title)
		}
	}

	if def.SubnetID != "" && acct.VPCID != "" {
		subnets, err := d.VPCSubnets(ctx)
		switch {
		case errors.Is(err, provider.ErrNotSupported):
		case err != nil:
			return fmt.Errorf("host definition %s: list subnets of %s: %w", def.Title, acct.VPCID, err)
		case !contains(subnets, def.SubnetID):
			return fmt.Errorf("%w: subnet %s is not in vpc %s", model.ErrInvalidInput, def.SubnetID, acct.VPCID)
		}
	}

	var groupIDs []string
	for _, sg := range def.SecurityGroups {
		if !sg.IsManaged && sg.GroupID != "" {
			groupIDs = append(groupIDs, sg.GroupID)
		}
	}
	if len(groupIDs) > 0 {
		found, err := d.GetSecurityGroups(ctx, groupIDs)
		switch {
		case errors.Is(err, provider.ErrNotSupported):
		case err != nil:
			return fmt.Errorf("host definition %s: look up security groups: %w", def.Title, err)
		default:
			known := make([]string, len(found))
			for i, sg := range found {
				known[i] = sg.GroupID
			}
			for _, id := range groupIDs {
				if !contains(known, id) {
					return fmt.Errorf("%w: security group %s does not exist on cloud account %s", model.ErrInvalidInput, id, acct.Title)
				}
			}
		}
	}

	if !acct.CreateSecurityGroups {
		return nil
	}
	sg, err := s.managedGroup(ctx, d, *acct, *def, namespace)
	if err != nil || sg == nil {
		return err
	}
	def.SecurityGroups = append(append([]model.SecurityGroup(nil), def.SecurityGroups...), *sg)
	return nil
}

// managedGroup returns the stack's security group for a host definition,
// creating it through the driver when it does not exist yet. Drivers without
// security groups yield nil.
func (s *StackService) managedGroup(ctx context.Context, d provider.Driver, acct model.CloudAccount, def model.HostDefinition, namespace string) (*model.SecurityGroup, error) {
	name := ManagedGroupName(namespace, def)
	sg, err := s.store.FindSecurityGroup(ctx, acct.ID, name)
	if err == nil {
		return sg, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	defID := def.ID
	sg = &model.SecurityGroup{
		CloudAccountID:   acct.ID,
		Name:             name,
		Description:      fmt.Sprintf("stackd managed group for %s hosts of %s", def.Title, namespace),
		HostDefinitionID: &defID,
		IsManaged:        true,
	}
	if err := d.CreateSecurityGroup(ctx, sg); err != nil {
		if errors.Is(err, provider.ErrNotSupported) {
			return nil, nil
		}
		return nil, fmt.Errorf("create security group %s on cloud account %s: %w", name, acct.Title, err)
	}
	if err := s.store.CreateSecurityGroup(ctx, sg); err != nil {
		return nil, err
	}
	s.logger.Info().Str("group", sg.Name).Str("groupID", sg.GroupID).Int64("account", acct.ID).Msg("managed security group created")
	return sg, nil
}

// ManagedGroupName is the name of the security group stackd manages for the
// hosts of one definition in a namespace.
func ManagedGroupName(namespace string, def model.HostDefinition) string {
	slug := model.Stack{ID: def.ID, Title: def.Title}.Slug()
	return fmt.Sprintf("stackd-%s-%s", namespace, slug)
}

// withDefinitions copies a blueprint deeply enough that its host definitions
// can be changed without touching the caller's.
func withDefinitions(bp *model.Blueprint) *model.Blueprint {
	cp := *bp
	cp.HostDefinitions = append([]model.HostDefinition(nil), bp.HostDefinitions...)
	return &cp
}

func (s *StackService) rebuild(ctx context.Context, stackID int64, opts model.WorkflowOptions) error {
	artifacts, err := s.builder.Build(ctx, stackID, stack.FaultsFrom(opts))
	if err != nil {
		return fmt.Errorf("render stack %d: %w", stackID, err)
	}
	return s.store.SaveStackArtifacts(ctx, stackID, artifacts)
}

func (s *StackService) options(o *model.WorkflowOptions) model.WorkflowOptions {
	if o == nil {
		return s.defaults
	}
	opts := *o
	if opts.ZombieMaxRetries == 0 {
		opts.ZombieMaxRetries = s.defaults.ZombieMaxRetries
	}
	return opts
}

// startChain starts the stack's chain workflow. A chain already running under
// the stack's workflow id means the stack is busy.
func (s *StackService) startChain(ctx context.Context, req model.ChainRequest) error {
	_, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:                                       platform.StackWorkflowID(req.StackID),
		TaskQueue:                                s.taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, "StackChainWorkflow", req)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return fmt.Errorf("stack %d has a running chain: %w", req.StackID, model.ErrStackBusy)
		}
		return fmt.Errorf("start StackChainWorkflow for stack %d: %w", req.StackID, err)
	}
	metrics.ChainsStarted.WithLabelValues(req.Intent).Inc()
	s.logger.Info().Int64("stack", req.StackID).Str("intent", req.Intent).Str("action", req.Action).Msg("stack chain started")
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func knownAction(action string) bool {
	for _, a := range model.AllActions {
		if a == action {
			return true
		}
	}
	return false
}
