package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/tierroute/internal/model"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RemoteHeartbeatApplier accepts heartbeats observed by peer edge servers
type RemoteHeartbeatApplier interface {
	ApplyRemote(hb model.Heartbeat) bool
	Devices() []model.DeviceLivenessRecord
}

// GossipService shares device heartbeats between edge servers over memberlist
type GossipService struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	delegate   *HeartbeatGossip
	events     *GossipEventDelegate
	logger     *zap.Logger
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	NodeID         string
	BindAddr       string
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
	RetransmitMult int
}

// NewGossipService creates a gossip service and joins the seed nodes
func NewGossipService(cfg *GossipConfig, tracker RemoteHeartbeatApplier, edgeLoad func() float64, logger *zap.Logger) (*GossipService, error) {
	gs := &GossipService{
		config: cfg,
		events: &GossipEventDelegate{logger: logger},
		logger: logger,
	}
	gs.delegate = NewHeartbeatGossip(cfg.NodeID, tracker, edgeLoad, gs.events.NumMembers, cfg.RetransmitMult, logger)

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.NodeID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = gs.delegate
	mlConfig.Events = gs.events
	stdLog, err := zap.NewStdLogAt(logger.Named("memberlist"), zapcore.DebugLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist logger: %w", err)
	}
	mlConfig.Logger = stdLog

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		joined, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			logger.Warn("Failed to join some seed nodes",
				zap.Int("joined", joined),
				zap.Error(err))
		}
	}

	return gs, nil
}

// BroadcastHeartbeat queues a locally received heartbeat for the cluster
func (s *GossipService) BroadcastHeartbeat(deviceID string, status model.HeartbeatStatus, observedAt time.Time) {
	s.delegate.Enqueue(model.Heartbeat{
		DeviceID:   deviceID,
		Status:     status,
		ObservedAt: observedAt.UnixNano(),
		Origin:     s.config.NodeID,
	})
}

// Peers returns the advertised metadata of every live member, including this node
func (s *GossipService) Peers() []model.NodeMeta {
	members := s.memberlist.Members()
	peers := make([]model.NodeMeta, 0, len(members))
	for _, m := range members {
		var meta model.NodeMeta
		if err := json.Unmarshal(m.Meta, &meta); err != nil {
			meta = model.NodeMeta{NodeID: m.Name}
		}
		peers = append(peers, meta)
	}
	return peers
}

// LocalAddr returns the gossip address of this node
func (s *GossipService) LocalAddr() string {
	n := s.memberlist.LocalNode()
	return fmt.Sprintf("%s:%d", n.Addr, n.Port)
}

// Shutdown leaves the cluster and stops the memberlist
func (s *GossipService) Shutdown(timeout time.Duration) error {
	if err := s.memberlist.Leave(timeout); err != nil {
		s.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// HeartbeatGossip is the memberlist delegate carrying heartbeats and node metadata
type HeartbeatGossip struct {
	nodeID     string
	tracker    RemoteHeartbeatApplier
	edgeLoad   func() float64
	broadcasts *memberlist.TransmitLimitedQueue
	logger     *zap.Logger
	mu         sync.Mutex
	received   uint64
}

// NewHeartbeatGossip creates the delegate
func NewHeartbeatGossip(nodeID string, tracker RemoteHeartbeatApplier, edgeLoad func() float64, numNodes func() int, retransmitMult int, logger *zap.Logger) *HeartbeatGossip {
	if retransmitMult <= 0 {
		retransmitMult = 3
	}
	return &HeartbeatGossip{
		nodeID:   nodeID,
		tracker:  tracker,
		edgeLoad: edgeLoad,
		broadcasts: &memberlist.TransmitLimitedQueue{
			NumNodes:       numNodes,
			RetransmitMult: retransmitMult,
		},
		logger: logger,
	}
}

// Enqueue queues a heartbeat for broadcast, replacing any queued one for the same device
func (g *HeartbeatGossip) Enqueue(hb model.Heartbeat) {
	data, err := json.Marshal(hb)
	if err != nil {
		g.logger.Warn("Failed to marshal heartbeat", zap.Error(err))
		return
	}
	g.broadcasts.QueueBroadcast(&heartbeatBroadcast{deviceID: hb.DeviceID, msg: data})
}

// Pending returns the number of queued broadcasts
func (g *HeartbeatGossip) Pending() int {
	return g.broadcasts.NumQueued()
}

// Received returns the number of remote heartbeats applied
func (g *HeartbeatGossip) Received() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.received
}

// NodeMeta implements memberlist.Delegate
func (g *HeartbeatGossip) NodeMeta(limit int) []byte {
	meta := model.NodeMeta{
		NodeID:    g.nodeID,
		Timestamp: time.Now().Unix(),
	}
	if g.edgeLoad != nil {
		meta.EdgeLoad = g.edgeLoad()
	}
	if g.tracker != nil {
		meta.Devices = len(g.tracker.Devices())
	}
	data, _ := json.Marshal(meta)
	if len(data) > limit {
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate. Remote heartbeats are applied but never re-broadcast.
func (g *HeartbeatGossip) NotifyMsg(data []byte) {
	var hb model.Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		g.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}
	if hb.DeviceID == "" || hb.Origin == g.nodeID {
		return
	}
	if _, err := model.ParseHeartbeatStatus(string(hb.Status)); err != nil {
		g.logger.Warn("Dropping gossip heartbeat", zap.String("device_id", hb.DeviceID), zap.Error(err))
		return
	}

	if g.tracker.ApplyRemote(hb) {
		g.mu.Lock()
		g.received++
		g.mu.Unlock()
	}

	g.logger.Debug("Received heartbeat from peer",
		zap.String("device_id", hb.DeviceID),
		zap.String("status", string(hb.Status)),
		zap.String("origin", hb.Origin))
}

// GetBroadcasts implements memberlist.Delegate
func (g *HeartbeatGossip) GetBroadcasts(overhead, limit int) [][]byte {
	return g.broadcasts.GetBroadcasts(overhead, limit)
}

// LocalState implements memberlist.Delegate. The full liveness table is exchanged on push/pull.
func (g *HeartbeatGossip) LocalState(join bool) []byte {
	records := g.tracker.Devices()
	data, err := json.Marshal(records)
	if err != nil {
		g.logger.Warn("Failed to marshal liveness state", zap.Error(err))
		return nil
	}
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (g *HeartbeatGossip) MergeRemoteState(buf []byte, join bool) {
	if len(buf) == 0 {
		return
	}
	var records []model.DeviceLivenessRecord
	if err := json.Unmarshal(buf, &records); err != nil {
		g.logger.Warn("Failed to unmarshal remote liveness state", zap.Error(err))
		return
	}

	applied := 0
	for _, rec := range records {
		hb := model.Heartbeat{
			DeviceID:   rec.DeviceID,
			Status:     model.HeartbeatInactive,
			ObservedAt: rec.UpdatedAt.UnixNano(),
		}
		if rec.LastAliveAt != nil {
			hb.Status = model.HeartbeatAlive
		}
		if g.tracker.ApplyRemote(hb) {
			applied++
		}
	}

	g.logger.Debug("Merged remote liveness state",
		zap.Int("records", len(records)),
		zap.Int("applied", applied),
		zap.Bool("join", join))
}

// heartbeatBroadcast implements memberlist.Broadcast
type heartbeatBroadcast struct {
	deviceID string
	msg      []byte
}

func (b *heartbeatBroadcast) Invalidates(other memberlist.Broadcast) bool {
	o, ok := other.(*heartbeatBroadcast)
	return ok && o.deviceID == b.deviceID
}

func (b *heartbeatBroadcast) Message() []byte {
	return b.msg
}

func (b *heartbeatBroadcast) Finished() {}

// GossipEventDelegate handles memberlist events and tracks the member count
type GossipEventDelegate struct {
	logger  *zap.Logger
	members atomic.Int32
}

// NumMembers returns the number of live members, at least one
func (d *GossipEventDelegate) NumMembers() int {
	if n := int(d.members.Load()); n > 0 {
		return n
	}
	return 1
}

// NotifyJoin is called when a node joins
func (d *GossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.members.Add(1)
	d.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()))
}

// NotifyLeave is called when a node leaves
func (d *GossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.members.Add(-1)
	d.logger.Info("Node left",
		zap.String("node_id", node.Name))
}

// NotifyUpdate is called when a node is updated
func (d *GossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.logger.Debug("Node updated",
		zap.String("node_id", node.Name))
}
