/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/capsched/capsched-core/pkg/common/configs"
	"github.com/capsched/capsched-core/pkg/common/resources"
	"github.com/capsched/capsched-core/pkg/common/security"
	"github.com/capsched/capsched-core/pkg/locking"
	"github.com/capsched/capsched-core/pkg/log"
	"github.com/capsched/capsched-core/pkg/metrics"
	"github.com/capsched/capsched-core/pkg/scheduler/fsm"
	"github.com/capsched/capsched-core/pkg/scheduler/objects"
)

// CapacityScheduler is the top level scheduling context: it owns the queue
// tree, the node inventory and the cluster resource total, and routes every
// operation to the tree.
//
// Two locking levels exist. The queues protect their own counters with fine
// grained per queue locks, see the objects package. The scheduler lock here
// is coarse: scheduling cycles and application operations take it for read,
// reconfiguration and node changes take it for write so the tree structure
// cannot change under a running cycle.
type CapacityScheduler struct {
	// Private fields need protection
	root            *objects.ParentQueue
	leaves          map[string]*objects.LeafQueue
	nodes           map[string]*objects.Node
	clusterResource *resources.Resource
	conf            *configs.SchedulerConfig
	qctx            *objects.QueueContext

	lifecycle        *fsm.SchedulerStateMachine
	schedulerMetrics *metrics.SchedulerMetrics
	tracer           opentracing.Tracer

	locking.RWMutex
}

// NewCapacityScheduler builds the scheduler from a validated configuration.
// The tracer may be opentracing.NoopTracer when tracing is not wanted.
func NewCapacityScheduler(conf *configs.SchedulerConfig, minAllocation *resources.Resource, tracer opentracing.Tracer) (*CapacityScheduler, error) {
	cs := &CapacityScheduler{
		leaves:           make(map[string]*objects.LeafQueue),
		nodes:            make(map[string]*objects.Node),
		clusterResource:  resources.NewResource(),
		conf:             conf,
		qctx:             &objects.QueueContext{MinAllocation: minAllocation},
		lifecycle:        fsm.NewSchedulerStateMachine(),
		schedulerMetrics: metrics.GetSchedulerMetrics(),
		tracer:           tracer,
	}
	root, err := cs.buildTree(conf)
	if err != nil {
		return nil, err
	}
	cs.root = root
	cs.leaves = collectLeaves(root)
	log.Logger().Info("capacity scheduler created",
		zap.Int("leafQueues", len(cs.leaves)),
		zap.String("configChecksum", conf.Checksum))
	return cs, nil
}

// buildTree constructs a fresh queue tree from the config snapshot.
func (cs *CapacityScheduler) buildTree(conf *configs.SchedulerConfig) (*objects.ParentQueue, error) {
	queue, err := objects.NewQueue(conf.Queues[0], nil, cs.qctx)
	if err != nil {
		return nil, err
	}
	root, ok := queue.(*objects.ParentQueue)
	if !ok {
		return nil, fmt.Errorf("root queue must be a parent queue")
	}
	return root, nil
}

func collectLeaves(pq *objects.ParentQueue) map[string]*objects.LeafQueue {
	leaves := make(map[string]*objects.LeafQueue)
	addLeaves(pq, leaves)
	return leaves
}

func addLeaves(pq *objects.ParentQueue, leaves map[string]*objects.LeafQueue) {
	for name, child := range pq.GetCopyOfChildren() {
		switch queue := child.(type) {
		case *objects.LeafQueue:
			leaves[name] = queue
		case *objects.ParentQueue:
			addLeaves(queue, leaves)
		}
	}
}

// StartService brings the scheduler into Running state and blocks until it
// gets there. In recovery mode the caller must replay the node reports via
// AddNode and RecoverAllocation and then signal FinishRecovery, from another
// goroutine, before this returns.
func (cs *CapacityScheduler) StartService(recoveryMode bool) {
	cs.lifecycle.BlockUntilStarted(recoveryMode)
}

// FinishRecovery moves the lifecycle from Recovering to Running.
func (cs *CapacityScheduler) FinishRecovery() error {
	return cs.lifecycle.EnqueueSchedulerStateEvent(fsm.SchedulerStateEvent{
		EventType: fsm.RecoverSchedulerSuccess,
	})
}

// FailRecovery marks the recovery as failed, the scheduler will not serve.
func (cs *CapacityScheduler) FailRecovery() error {
	return cs.lifecycle.EnqueueSchedulerStateEvent(fsm.SchedulerStateEvent{
		EventType: fsm.RecoverSchedulerFail,
	})
}

// IsRunning reports whether the lifecycle reached the serving state.
func (cs *CapacityScheduler) IsRunning() bool {
	return cs.lifecycle.IsRunning()
}

// Stop halts the lifecycle machine.
func (cs *CapacityScheduler) Stop() {
	cs.lifecycle.Stop()
}

// GetRootQueue returns the root of the queue tree.
func (cs *CapacityScheduler) GetRootQueue() *objects.ParentQueue {
	cs.RLock()
	defer cs.RUnlock()
	return cs.root
}

// GetQueue resolves a full queue path (root.a.b) to the queue, nil when the
// path does not exist.
func (cs *CapacityScheduler) GetQueue(queuePath string) objects.Queue {
	cs.RLock()
	root := cs.root
	cs.RUnlock()
	if root == nil {
		return nil
	}
	parts := strings.Split(strings.ToLower(queuePath), configs.DOT)
	if parts[0] != root.Name() {
		return nil
	}
	var current objects.Queue = root
	for _, part := range parts[1:] {
		parent, ok := current.(*objects.ParentQueue)
		if !ok {
			return nil
		}
		current = parent.GetChildQueue(part)
		if current == nil {
			return nil
		}
	}
	return current
}

// GetLeafQueue resolves a leaf by its short name.
func (cs *CapacityScheduler) GetLeafQueue(name string) *objects.LeafQueue {
	cs.RLock()
	defer cs.RUnlock()
	return cs.leaves[strings.ToLower(name)]
}

// ClusterResource returns a copy of the current cluster total.
func (cs *CapacityScheduler) ClusterResource() *resources.Resource {
	cs.RLock()
	defer cs.RUnlock()
	return cs.clusterResource.Clone()
}

// GetNode returns the tracked node, nil when unknown.
func (cs *CapacityScheduler) GetNode(nodeID string) *objects.Node {
	cs.RLock()
	defer cs.RUnlock()
	return cs.nodes[nodeID]
}

// GetNodes returns a copy of the node inventory.
func (cs *CapacityScheduler) GetNodes() []*objects.Node {
	cs.RLock()
	defer cs.RUnlock()
	nodes := make([]*objects.Node, 0, len(cs.nodes))
	for _, node := range cs.nodes {
		nodes = append(nodes, node)
	}
	return nodes
}

// AddNode registers a node and grows the cluster resource. Every queue
// recomputes its derived usage against the new total.
func (cs *CapacityScheduler) AddNode(node *objects.Node) error {
	cs.Lock()
	if _, exists := cs.nodes[node.NodeID]; exists {
		cs.Unlock()
		return fmt.Errorf("node %s already registered", node.NodeID)
	}
	cs.nodes[node.NodeID] = node
	cs.clusterResource.AddTo(node.GetTotalResource())
	clusterResource := cs.clusterResource.Clone()
	root := cs.root
	nodeCount := len(cs.nodes)
	cs.Unlock()

	root.UpdateClusterResource(clusterResource)
	cs.schedulerMetrics.SetActiveNodes(nodeCount)
	log.Logger().Info("node registered",
		zap.String("nodeID", node.NodeID),
		zap.Stringer("totalResource", node.GetTotalResource()))
	return nil
}

// RemoveNode removes a node, releases all its allocations through the tree
// and shrinks the cluster resource.
func (cs *CapacityScheduler) RemoveNode(nodeID string) error {
	cs.Lock()
	node, exists := cs.nodes[nodeID]
	if !exists {
		cs.Unlock()
		return fmt.Errorf("node %s not registered", nodeID)
	}
	delete(cs.nodes, nodeID)
	var err error
	cs.clusterResource, err = resources.SubErrorNegative(cs.clusterResource, node.GetTotalResource())
	if err != nil {
		log.Logger().Warn("cluster resource went negative on node removal",
			zap.String("nodeID", nodeID),
			zap.Error(err))
	}
	clusterResource := cs.clusterResource.Clone()
	root := cs.root
	nodeCount := len(cs.nodes)
	cs.Unlock()

	// release everything the node still ran
	for _, alloc := range node.GetAllAllocations() {
		if leaf := cs.leafForPath(alloc.QueuePath); leaf != nil {
			leaf.CompletedAllocation(clusterResource, node, alloc.AllocationID)
		}
	}
	root.UpdateClusterResource(clusterResource)
	cs.schedulerMetrics.SetActiveNodes(nodeCount)
	log.Logger().Info("node removed", zap.String("nodeID", nodeID))
	return nil
}

// leafForPath resolves the leaf owning a full queue path by its last
// segment, leaf names are unique across the tree.
func (cs *CapacityScheduler) leafForPath(queuePath string) *objects.LeafQueue {
	parts := strings.Split(queuePath, configs.DOT)
	return cs.GetLeafQueue(parts[len(parts)-1])
}

// Schedule runs one scheduling cycle for the node, typically on its
// heartbeat, and returns the aggregate assignment. The read lock is held
// across the whole tree walk: reconfiguration takes the write lock, so a
// queue can never be replaced or removed under a running cycle. Cycles for
// different nodes still run in parallel, the queues below only take their
// own fine grained locks.
func (cs *CapacityScheduler) Schedule(nodeID string) (*resources.Resource, error) {
	cs.RLock()
	defer cs.RUnlock()
	node, exists := cs.nodes[nodeID]
	if !exists {
		return nil, fmt.Errorf("node %s not registered", nodeID)
	}
	clusterResource := cs.clusterResource.Clone()

	span := cs.tracer.StartSpan("schedule")
	span.SetTag("nodeID", nodeID)
	defer span.Finish()
	start := time.Now()

	assignment := cs.root.AssignContainers(clusterResource, node)
	cs.schedulerMetrics.ObserveSchedulingLatency(start)
	if assignment.IsEmpty() {
		cs.schedulerMetrics.IncSkipped()
		return resources.NewResource(), nil
	}
	cs.schedulerMetrics.IncAssigned()
	span.SetTag("assignedResource", assignment.AssignedResource.String())
	return assignment.AssignedResource, nil
}

// SubmitApplication routes an application to the named leaf queue.
func (cs *CapacityScheduler) SubmitApplication(appID, queueName string, user security.UserGroup) error {
	leaf := cs.GetLeafQueue(queueName)
	if leaf == nil {
		return fmt.Errorf("queue %s does not exist, cannot submit application %s", queueName, appID)
	}
	return leaf.SubmitApplication(appID, strings.ToLower(queueName), user)
}

// AddAllocationAsk records outstanding demand for a submitted application.
func (cs *CapacityScheduler) AddAllocationAsk(appID, queueName string, ask *objects.AllocationAsk) error {
	leaf := cs.GetLeafQueue(queueName)
	if leaf == nil {
		return fmt.Errorf("queue %s does not exist", queueName)
	}
	app := leaf.GetApplication(appID)
	if app == nil {
		return fmt.Errorf("application %s not found in queue %s", appID, queueName)
	}
	app.AddAllocationAsk(ask)
	return nil
}

// FinishApplication removes a finished application from its leaf queue.
func (cs *CapacityScheduler) FinishApplication(appID, queueName string) error {
	leaf := cs.GetLeafQueue(queueName)
	if leaf == nil {
		return fmt.Errorf("queue %s does not exist, cannot finish application %s", queueName, appID)
	}
	leaf.FinishApplication(appID)
	return nil
}

// CompletedContainer handles the completion report for one allocation.
func (cs *CapacityScheduler) CompletedContainer(nodeID, allocationID string) error {
	cs.RLock()
	node := cs.nodes[nodeID]
	clusterResource := cs.clusterResource.Clone()
	cs.RUnlock()
	if node == nil {
		return fmt.Errorf("node %s not registered", nodeID)
	}
	alloc := node.GetAllocation(allocationID)
	if alloc == nil {
		return fmt.Errorf("allocation %s not found on node %s", allocationID, nodeID)
	}
	leaf := cs.leafForPath(alloc.QueuePath)
	if leaf == nil {
		return fmt.Errorf("queue %s for allocation %s no longer exists", alloc.QueuePath, allocationID)
	}
	leaf.CompletedAllocation(clusterResource, node, allocationID)
	return nil
}

// RecoverAllocation re-adds a running allocation reported by a node during
// recovery. The node must be registered and the application re-submitted
// before its allocations are recovered.
func (cs *CapacityScheduler) RecoverAllocation(nodeID string, alloc *objects.Allocation) error {
	cs.RLock()
	node := cs.nodes[nodeID]
	clusterResource := cs.clusterResource.Clone()
	cs.RUnlock()
	if node == nil {
		return fmt.Errorf("node %s not registered, cannot recover allocation %s", nodeID, alloc.AllocationID)
	}
	leaf := cs.leafForPath(alloc.QueuePath)
	if leaf == nil {
		return fmt.Errorf("queue %s for allocation %s does not exist", alloc.QueuePath, alloc.AllocationID)
	}
	return leaf.RecoverAllocation(clusterResource, node, alloc)
}

// Reinitialize applies a new configuration to the running tree. Existing
// queues keep their applications and usage, removed queues must be empty.
// The whole operation happens under the coarse write lock: a failed
// validation leaves the old tree fully intact.
func (cs *CapacityScheduler) Reinitialize(conf *configs.SchedulerConfig) error {
	cs.Lock()
	defer cs.Unlock()

	newRoot, err := cs.buildTree(conf)
	if err != nil {
		return fmt.Errorf("reinitialize rejected: %s", err)
	}
	newLeaves := collectLeaves(newRoot)

	// a queue can only be dropped once it is drained
	for name, leaf := range cs.leaves {
		if _, kept := newLeaves[name]; !kept && (leaf.NumApplications() > 0 || leaf.NumContainers() > 0) {
			return fmt.Errorf("reinitialize rejected: queue %s is not empty and absent from the new configuration", leaf.QueuePath())
		}
	}

	if err = cs.root.Reinitialize(newRoot, cs.clusterResource.Clone()); err != nil {
		return fmt.Errorf("reinitialize rejected: %s", err)
	}
	cs.conf = conf
	cs.leaves = collectLeaves(cs.root)
	log.Logger().Info("scheduler reinitialized",
		zap.Int("leafQueues", len(cs.leaves)),
		zap.String("configChecksum", conf.Checksum))
	return nil
}

// GetConfig returns the configuration the running tree was built from.
func (cs *CapacityScheduler) GetConfig() *configs.SchedulerConfig {
	cs.RLock()
	defer cs.RUnlock()
	return cs.conf
}
