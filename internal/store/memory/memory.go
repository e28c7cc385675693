// Package memory is an in-process implementation of the store used in tests
// and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stackdio/stackd/internal/model"
)

// Store keeps every row in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	nextID int64

	stacks        map[int64]*model.Stack
	history       map[int64][]model.StackHistory
	hosts         map[int64]*model.Host
	volumes       map[int64]*model.Volume
	blueprints    map[int64]*model.Blueprint
	accounts      map[int64]*model.CloudAccount
	groups        map[int64]*model.SecurityGroup
	users         map[int64]*model.User
	members       map[int64][]int64
	channels      map[int64]*model.NotificationChannel
	notifications map[int64]*model.Notification
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		stacks:        make(map[int64]*model.Stack),
		history:       make(map[int64][]model.StackHistory),
		hosts:         make(map[int64]*model.Host),
		volumes:       make(map[int64]*model.Volume),
		blueprints:    make(map[int64]*model.Blueprint),
		accounts:      make(map[int64]*model.CloudAccount),
		groups:        make(map[int64]*model.SecurityGroup),
		users:         make(map[int64]*model.User),
		members:       make(map[int64][]int64),
		channels:      make(map[int64]*model.NotificationChannel),
		notifications: make(map[int64]*model.Notification),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, model.ErrNotFound)
}

// ---------- Seeding ----------

// AddCloudAccount stores a cloud account, assigning an ID when zero.
func (s *Store) AddCloudAccount(a model.CloudAccount) model.CloudAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id()
	}
	s.accounts[a.ID] = &a
	return a
}

// AddSecurityGroup stores a security group, assigning an ID when zero.
func (s *Store) AddSecurityGroup(g model.SecurityGroup) model.SecurityGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == 0 {
		g.ID = s.id()
	}
	s.groups[g.ID] = &g
	return g
}

// AddBlueprint stores a blueprint, assigning IDs to it and its definitions.
func (s *Store) AddBlueprint(bp model.Blueprint) model.Blueprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bp.ID == 0 {
		bp.ID = s.id()
	}
	for i := range bp.HostDefinitions {
		if bp.HostDefinitions[i].ID == 0 {
			bp.HostDefinitions[i].ID = s.id()
		}
		bp.HostDefinitions[i].BlueprintID = bp.ID
	}
	s.blueprints[bp.ID] = &bp
	return bp
}

// AddGroupMembers makes the users members of a group.
func (s *Store) AddGroupMembers(groupID int64, userIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[groupID] = append(s.members[groupID], userIDs...)
}

// AddChannel stores a notification channel, assigning IDs to it and its handlers.
func (s *Store) AddChannel(c model.NotificationChannel) model.NotificationChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	for i := range c.Handlers {
		if c.Handlers[i].ID == 0 {
			c.Handlers[i].ID = s.id()
		}
		c.Handlers[i].ChannelID = c.ID
	}
	s.channels[c.ID] = &c
	return c
}

// ---------- Stacks ----------

func (s *Store) GetStack(ctx context.Context, id int64) (*model.Stack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stacks[id]
	if !ok {
		return nil, notFound("stack", id)
	}
	cp := *st
	return &cp, nil
}

func (s *Store) CreateStack(ctx context.Context, stack *model.Stack, hosts []model.HostSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.stacks {
		if other.OwnerID == stack.OwnerID && other.Title == stack.Title {
			return fmt.Errorf("create stack %q: %w", stack.Title, model.ErrStackExists)
		}
	}
	if err := s.checkHostnames(0, hosts); err != nil {
		return err
	}
	now := time.Now()
	stack.ID = s.id()
	stack.CreatedAt = now
	stack.UpdatedAt = now
	cp := *stack
	s.stacks[stack.ID] = &cp
	s.appendHistory(stack.ID, model.StatusUpdate{
		Event: "stack_created", Status: stack.Status, Detail: stack.StatusDetail, Level: model.LevelInfo,
	})
	return s.insertHosts(stack.ID, hosts)
}

func (s *Store) checkHostnames(stackID int64, hosts []model.HostSpec) error {
	taken := make(map[string]bool)
	for _, h := range s.hosts {
		if h.StackID == stackID {
			taken[h.Hostname] = true
		}
	}
	for _, spec := range hosts {
		if taken[spec.Host.Hostname] {
			return fmt.Errorf("create hosts for stack %d: duplicate hostname %s: %w", stackID, spec.Host.Hostname, model.ErrInvalidInput)
		}
		taken[spec.Host.Hostname] = true
	}
	return nil
}

func (s *Store) insertHosts(stackID int64, hosts []model.HostSpec) error {
	if err := s.checkHostnames(stackID, hosts); err != nil {
		return err
	}
	for i := range hosts {
		h := &hosts[i].Host
		h.ID = s.id()
		h.StackID = stackID
		h.CreatedAt = time.Now()
		cp := *h
		s.hosts[h.ID] = &cp
		for j := range hosts[i].Volumes {
			v := &hosts[i].Volumes[j]
			v.ID = s.id()
			v.StackID = stackID
			hostID := h.ID
			v.HostID = &hostID
			vcp := *v
			s.volumes[v.ID] = &vcp
		}
	}
	return nil
}

func (s *Store) SetStackStatus(ctx context.Context, stackID int64, u model.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stacks[stackID]
	if !ok {
		return notFound("stack", stackID)
	}
	if u.Level == "" {
		u.Level = model.LevelInfo
	}
	st.Status = u.Status
	st.StatusDetail = u.Detail
	st.UpdatedAt = time.Now()
	s.appendHistory(stackID, u)
	return nil
}

func (s *Store) appendHistory(stackID int64, u model.StatusUpdate) {
	s.history[stackID] = append(s.history[stackID], model.StackHistory{
		ID:           s.id(),
		StackID:      stackID,
		Event:        u.Event,
		Status:       u.Status,
		StatusDetail: u.Detail,
		Level:        u.Level,
		CreatedAt:    time.Now(),
	})
}

func (s *Store) ListStackHistory(ctx context.Context, stackID int64) ([]model.StackHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StackHistory(nil), s.history[stackID]...), nil
}

func (s *Store) SaveStackArtifacts(ctx context.Context, stackID int64, a model.Artifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stacks[stackID]
	if !ok {
		return notFound("stack", stackID)
	}
	st.Artifacts = a
	return nil
}

func (s *Store) DeleteStack(ctx context.Context, stackID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stacks, stackID)
	delete(s.history, stackID)
	for id, h := range s.hosts {
		if h.StackID == stackID {
			delete(s.hosts, id)
		}
	}
	for id, v := range s.volumes {
		if v.StackID == stackID {
			delete(s.volumes, id)
		}
	}
	return nil
}

// ---------- Hosts and volumes ----------

func (s *Store) CreateHosts(ctx context.Context, stackID int64, hosts []model.HostSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stacks[stackID]; !ok {
		return notFound("stack", stackID)
	}
	return s.insertHosts(stackID, hosts)
}

func (s *Store) ListHosts(ctx context.Context, stackID int64, hostIDs []int64) ([]model.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var want map[int64]bool
	if hostIDs != nil {
		want = make(map[int64]bool, len(hostIDs))
		for _, id := range hostIDs {
			want[id] = true
		}
	}
	var hosts []model.Host
	for _, h := range s.hosts {
		if h.StackID != stackID || (want != nil && !want[h.ID]) {
			continue
		}
		hosts = append(hosts, *h)
	}
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Index != hosts[j].Index {
			return hosts[i].Index < hosts[j].Index
		}
		return hosts[i].ID < hosts[j].ID
	})
	return hosts, nil
}

func (s *Store) UpdateHost(ctx context.Context, h model.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.hosts[h.ID]
	if !ok {
		return notFound("host", h.ID)
	}
	cur.InstanceID = h.InstanceID
	cur.FQDN = h.FQDN
	cur.ProviderPublicDNS = h.ProviderPublicDNS
	cur.ProviderPrivateDNS = h.ProviderPrivateDNS
	cur.PublicIP = h.PublicIP
	cur.PrivateIP = h.PrivateIP
	cur.State = h.State
	cur.Status = h.Status
	cur.StatusDetail = h.StatusDetail
	return nil
}

func (s *Store) DeleteHosts(ctx context.Context, stackID int64, hostIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range hostIDs {
		if h, ok := s.hosts[id]; ok && h.StackID == stackID {
			delete(s.hosts, id)
			for vid, v := range s.volumes {
				if v.HostID != nil && *v.HostID == id {
					delete(s.volumes, vid)
				}
			}
		}
	}
	return nil
}

func (s *Store) ListVolumes(ctx context.Context, stackID int64) ([]model.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var volumes []model.Volume
	for _, v := range s.volumes {
		if v.StackID == stackID {
			volumes = append(volumes, *v)
		}
	}
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].ID < volumes[j].ID })
	return volumes, nil
}

func (s *Store) UpdateVolume(ctx context.Context, v model.Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.volumes[v.ID]
	if !ok {
		return notFound("volume", v.ID)
	}
	cur.HostID = v.HostID
	cur.VolumeID = v.VolumeID
	cur.DeleteOnTermination = v.DeleteOnTermination
	return nil
}

func (s *Store) SecurityGroupsForDeletion(ctx context.Context, hostIDs []int64) ([]model.SecurityGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	leaving := make(map[int64]bool, len(hostIDs))
	for _, id := range hostIDs {
		leaving[id] = true
	}
	stillUsed := make(map[int64]bool)
	for _, h := range s.hosts {
		if leaving[h.ID] || h.State == model.StateTerminated {
			continue
		}
		for _, sg := range h.SecurityGroups {
			stillUsed[sg.ID] = true
		}
	}
	seen := make(map[int64]bool)
	var groups []model.SecurityGroup
	for _, id := range hostIDs {
		h, ok := s.hosts[id]
		if !ok {
			continue
		}
		for _, sg := range h.SecurityGroups {
			cur, ok := s.groups[sg.ID]
			if !ok || !cur.IsManaged || cur.HostDefinitionID == nil || stillUsed[sg.ID] || seen[sg.ID] {
				continue
			}
			seen[sg.ID] = true
			groups = append(groups, *cur)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

func (s *Store) DeleteSecurityGroup(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, id)
	return nil
}

func (s *Store) FindSecurityGroup(ctx context.Context, cloudAccountID int64, name string) (*model.SecurityGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.CloudAccountID == cloudAccountID && g.Name == name {
			cp := *g
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("security group %q of cloud account %d: %w", name, cloudAccountID, model.ErrNotFound)
}

func (s *Store) CreateSecurityGroup(ctx context.Context, sg *model.SecurityGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.CloudAccountID == sg.CloudAccountID && g.Name == sg.Name {
			return fmt.Errorf("%w: security group %q already exists", model.ErrInvalidInput, sg.Name)
		}
	}
	sg.ID = s.id()
	cp := *sg
	s.groups[sg.ID] = &cp
	return nil
}

// SecurityGroup returns a stored security group.
func (s *Store) SecurityGroup(id int64) (model.SecurityGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return model.SecurityGroup{}, false
	}
	return *g, true
}

// ---------- Blueprints and accounts ----------

func (s *Store) GetBlueprint(ctx context.Context, id int64) (*model.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bp, ok := s.blueprints[id]
	if !ok {
		return nil, notFound("blueprint", id)
	}
	cp := *bp
	return &cp, nil
}

func (s *Store) GetCloudAccount(ctx context.Context, id int64) (*model.CloudAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, notFound("cloud account", id)
	}
	cp := *a
	return &cp, nil
}

// ---------- Users ----------

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.users {
		if other.Username == u.Username {
			return fmt.Errorf("create user %q: username taken: %w", u.Username, model.ErrInvalidInput)
		}
	}
	u.ID = s.id()
	u.CreatedAt = time.Now()
	u.Settings.UserID = u.ID
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GroupMembers(ctx context.Context, groupID int64) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []model.User
	for _, id := range s.members[groupID] {
		if u, ok := s.users[id]; ok {
			users = append(users, *u)
		}
	}
	return users, nil
}

// ---------- Notifications ----------

func (s *Store) ChannelsForEvent(ctx context.Context, event, contentType string, objectID int64) ([]model.NotificationChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var channels []model.NotificationChannel
	for _, c := range s.channels {
		if c.Subscribed(event, contentType, objectID) {
			channels = append(channels, *c)
		}
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })
	return channels, nil
}

func (s *Store) CreateNotifications(ctx context.Context, ns []model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i := range ns {
		ns[i].ID = s.id()
		ns[i].CreatedAt = now
		ns[i].UpdatedAt = now
		cp := ns[i]
		s.notifications[cp.ID] = &cp
	}
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id int64) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, notFound("notification", id)
	}
	cp := *n
	return &cp, nil
}

func (s *Store) MarkNotificationSent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return notFound("notification", id)
	}
	n.Sent = true
	n.UpdatedAt = time.Now()
	return nil
}

func (s *Store) MarkNotificationFailed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return notFound("notification", id)
	}
	n.Sent = false
	n.FailedCount++
	n.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ListUnsentNotifications(ctx context.Context, maxFailed int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ns []model.Notification
	for _, n := range s.notifications {
		if !n.Sent && n.FailedCount <= maxFailed {
			ns = append(ns, *n)
		}
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i].ID < ns[j].ID })
	return ns, nil
}

// AddNotification stores a notification as is, for tests that need a
// specific sent/failed state.
func (s *Store) AddNotification(n model.Notification) model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == 0 {
		n.ID = s.id()
	}
	s.notifications[n.ID] = &n
	return n
}
