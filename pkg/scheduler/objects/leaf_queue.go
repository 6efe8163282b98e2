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

package objects

import (
	"fmt"
	"strings"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/capsched/capsched-core/pkg/common/configs"
	"github.com/capsched/capsched-core/pkg/common/resources"
	"github.com/capsched/capsched-core/pkg/common/security"
	"github.com/capsched/capsched-core/pkg/locking"
	"github.com/capsched/capsched-core/pkg/log"
	"github.com/capsched/capsched-core/pkg/metrics"
)

// LeafQueue is a terminal node of the capacity tree: the only queue kind
// that holds applications and produces allocations. Applications are
// serviced in submission order.
type LeafQueue struct {
	name      string
	queuePath string

	// Private fields need protection
	parent          *ParentQueue
	qctx            *QueueContext
	queueCapacities queueCapacities
	usedResources   *resources.Resource
	numContainers   int
	submitACL       security.ACL
	adminACL        security.ACL
	confState       string
	stateMachine    *fsm.FSM
	applications    map[string]*Application
	appOrder        []string
	allocToApp      map[string]string
	queueMetrics    *metrics.QueueMetrics

	locking.RWMutex
}

// NewLeafQueue creates a leaf from the configuration snapshot. A leaf always
// has a parent, the root is forced to be a parent queue by the config
// validation. lock free as the queue cannot be referenced yet.
func NewLeafQueue(conf configs.QueueConfig, parent *ParentQueue, qctx *QueueContext) (*LeafQueue, error) {
	if parent == nil {
		return nil, fmt.Errorf("leaf queue %s creation failed: a leaf cannot be the root", conf.Name)
	}
	lq := &LeafQueue{
		name:          strings.ToLower(conf.Name),
		parent:        parent,
		qctx:          qctx,
		usedResources: resources.NewResource(),
		applications:  make(map[string]*Application),
		allocToApp:    make(map[string]string),
	}
	lq.queuePath = parent.QueuePath() + configs.DOT + lq.name

	var err error
	lq.queueCapacities, err = newQueueCapacities(conf, parent.AbsoluteCapacity(), parent.AbsoluteMaximumCapacity(), false)
	if err != nil {
		return nil, fmt.Errorf("leaf queue %s creation failed: %s", lq.queuePath, err)
	}
	lq.submitACL, lq.adminACL, err = aclsFromConf(conf)
	if err != nil {
		return nil, fmt.Errorf("leaf queue %s creation failed: %s", lq.queuePath, err)
	}
	lq.stateMachine = NewObjectState()
	lq.confState = conf.State
	if err = applyConfState(lq.stateMachine, conf.State, lq.queuePath); err != nil {
		return nil, fmt.Errorf("leaf queue %s creation failed: %s", lq.queuePath, err)
	}
	lq.queueMetrics = metrics.GetQueueMetrics(lq.queuePath)
	lq.updateCapacityMetrics()

	log.Logger().Debug("configured leaf queue added to scheduler",
		zap.String("queueName", lq.queuePath))
	return lq, nil
}

func (lq *LeafQueue) Name() string {
	return lq.name
}

func (lq *LeafQueue) QueuePath() string {
	return lq.queuePath
}

func (lq *LeafQueue) IsLeafQueue() bool {
	return true
}

func (lq *LeafQueue) Capacity() float64 {
	lq.RLock()
	defer lq.RUnlock()
	return lq.queueCapacities.capacity
}

func (lq *LeafQueue) AbsoluteCapacity() float64 {
	lq.RLock()
	defer lq.RUnlock()
	return lq.queueCapacities.absoluteCapacity
}

func (lq *LeafQueue) MaximumCapacity() float64 {
	lq.RLock()
	defer lq.RUnlock()
	return lq.queueCapacities.maximumCapacity
}

func (lq *LeafQueue) AbsoluteMaximumCapacity() float64 {
	lq.RLock()
	defer lq.RUnlock()
	return lq.queueCapacities.absoluteMaximumCapacity
}

func (lq *LeafQueue) UsedCapacity() float64 {
	lq.RLock()
	defer lq.RUnlock()
	return lq.queueCapacities.usedCapacity
}

func (lq *LeafQueue) AbsoluteUsedCapacity() float64 {
	lq.RLock()
	defer lq.RUnlock()
	return lq.queueCapacities.absoluteUsedCapacity
}

func (lq *LeafQueue) UsedResources() *resources.Resource {
	lq.RLock()
	defer lq.RUnlock()
	return lq.usedResources.Clone()
}

func (lq *LeafQueue) NumApplications() int {
	lq.RLock()
	defer lq.RUnlock()
	return len(lq.applications)
}

func (lq *LeafQueue) NumContainers() int {
	lq.RLock()
	defer lq.RUnlock()
	return lq.numContainers
}

func (lq *LeafQueue) CurrentState() string {
	return lq.stateMachine.Current()
}

func (lq *LeafQueue) IsRunning() bool {
	return lq.stateMachine.Is(Active.String())
}

func (lq *LeafQueue) IsStopped() bool {
	return lq.stateMachine.Is(Stopped.String())
}

func (lq *LeafQueue) IsDraining() bool {
	return lq.stateMachine.Is(Draining.String())
}

// Check if the user has access to the queue to submit an application,
// walking up the parent chain on a local deny.
func (lq *LeafQueue) CheckSubmitAccess(user security.UserGroup) bool {
	lq.RLock()
	allow := lq.submitACL.CheckAccess(user) || lq.adminACL.CheckAccess(user)
	lq.RUnlock()
	if !allow {
		allow = lq.parent.CheckSubmitAccess(user)
	}
	return allow
}

func (lq *LeafQueue) CheckAdminAccess(user security.UserGroup) bool {
	lq.RLock()
	allow := lq.adminACL.CheckAccess(user)
	lq.RUnlock()
	if !allow {
		allow = lq.parent.CheckAdminAccess(user)
	}
	return allow
}

// GetApplication returns the tracked application, nil when not present.
func (lq *LeafQueue) GetApplication(appID string) *Application {
	lq.RLock()
	defer lq.RUnlock()
	return lq.applications[appID]
}

// GetPendingResource aggregates the outstanding asks over all applications.
func (lq *LeafQueue) GetPendingResource() *resources.Resource {
	pending := resources.NewResource()
	for _, app := range lq.appSnapshot() {
		pending.AddTo(app.GetPendingResource())
	}
	return pending
}

// appSnapshot copies the applications in submission order so scheduling can
// iterate without holding the queue lock.
func (lq *LeafQueue) appSnapshot() []*Application {
	lq.RLock()
	defer lq.RUnlock()
	apps := make([]*Application, 0, len(lq.appOrder))
	for _, appID := range lq.appOrder {
		if app := lq.applications[appID]; app != nil {
			apps = append(apps, app)
		}
	}
	return apps
}

// AssignContainers matches the node against the applications in submission
// order and returns at most one allocation per call. The parent drives
// repetition from the root, a leaf never loops.
// Lock free call, the queue lock is taken when needed in called functions.
func (lq *LeafQueue) AssignContainers(clusterResource *resources.Resource, node *Node) *Assignment {
	if node.IsReserved() || !resources.FitIn(node.GetAvailableResource(), lq.qctx.MinAllocation) {
		return newAssignment()
	}
	headroom, ok := lq.headroom(clusterResource)
	if !ok {
		return newAssignment()
	}
	for _, app := range lq.appSnapshot() {
		alloc := app.tryAllocate(node, headroom)
		if alloc == nil {
			continue
		}
		if err := node.AddAllocation(alloc); err != nil {
			// the node filled up between the fit check and the add, put
			// the allocation back as pending demand
			app.removeAllocation(alloc.AllocationID)
			log.Logger().Debug("node rejected allocation",
				zap.String("queueName", lq.queuePath),
				zap.String("nodeID", node.NodeID),
				zap.Error(err))
			return newAssignment()
		}
		lq.allocateResource(clusterResource, alloc)
		log.Logger().Debug("allocation placed",
			zap.String("queueName", lq.queuePath),
			zap.String("appID", alloc.ApplicationID),
			zap.String("nodeID", node.NodeID),
			zap.Stringer("locality", alloc.Locality))
		return &Assignment{
			AssignedResource: alloc.AllocatedResource.Clone(),
			Locality:         alloc.Locality,
		}
	}
	return newAssignment()
}

// headroom returns the room left under the absolute maximum capacity. The
// bool is false when the queue is already at or over its cap and nothing
// may be assigned at all.
func (lq *LeafQueue) headroom(clusterResource *resources.Resource) (*resources.Resource, bool) {
	lq.RLock()
	defer lq.RUnlock()
	currentAbsoluteUsed := resources.FractionOfCluster(lq.usedResources, clusterResource)
	if currentAbsoluteUsed >= lq.queueCapacities.absoluteMaximumCapacity {
		return nil, false
	}
	limit := resources.MultiplyBy(clusterResource, lq.queueCapacities.absoluteMaximumCapacity)
	return resources.Sub(limit, lq.usedResources), true
}

// allocateResource books a placed allocation on this queue.
func (lq *LeafQueue) allocateResource(clusterResource *resources.Resource, alloc *Allocation) {
	lq.Lock()
	defer lq.Unlock()
	lq.usedResources.AddTo(alloc.AllocatedResource)
	lq.numContainers++
	lq.allocToApp[alloc.AllocationID] = alloc.ApplicationID
	lq.queueCapacities.updateUsed(lq.usedResources, clusterResource)
	lq.updateUsageMetrics()
	lq.queueMetrics.IncAllocatedContainer()
}

// SubmitApplication registers a new application on this leaf after the
// routing, state and access checks pass. The registration is propagated up
// the parent chain, a rejection anywhere rolls the registration back.
func (lq *LeafQueue) SubmitApplication(appID, queueName string, user security.UserGroup) error {
	if queueName != lq.name {
		return fmt.Errorf("application %s routed to queue %s but reached %s", appID, queueName, lq.queuePath)
	}
	if !lq.IsRunning() {
		return fmt.Errorf("queue %s is %s, cannot accept application %s", lq.queuePath, lq.CurrentState(), appID)
	}
	if !lq.CheckSubmitAccess(user) {
		return fmt.Errorf("user %s has no submit access to queue %s", user.User, lq.queuePath)
	}
	lq.Lock()
	if _, exists := lq.applications[appID]; exists {
		lq.Unlock()
		return fmt.Errorf("application %s already submitted to queue %s", appID, lq.queuePath)
	}
	lq.applications[appID] = NewApplication(appID, user, lq.queuePath)
	lq.appOrder = append(lq.appOrder, appID)
	lq.Unlock()

	if err := lq.parent.SubmitApplication(appID, queueName, user); err != nil {
		// an ancestor refused, roll back the local registration
		lq.Lock()
		delete(lq.applications, appID)
		lq.appOrder = removeString(lq.appOrder, appID)
		lq.Unlock()
		return err
	}
	lq.queueMetrics.IncQueueApplicationsRunning()
	log.Logger().Info("application submitted",
		zap.String("queueName", lq.queuePath),
		zap.String("appID", appID),
		zap.String("user", user.User))
	return nil
}

// FinishApplication removes the application and propagates the decrement up
// the chain. Allocations still tracked for the application are a caller
// error, they are logged and leak until the nodes report them completed.
func (lq *LeafQueue) FinishApplication(appID string) {
	lq.Lock()
	app, exists := lq.applications[appID]
	if !exists {
		lq.Unlock()
		log.Logger().Warn("finish for unknown application",
			zap.String("queueName", lq.queuePath),
			zap.String("appID", appID))
		return
	}
	delete(lq.applications, appID)
	lq.appOrder = removeString(lq.appOrder, appID)
	lq.Unlock()
	if count := app.allocationCount(); count != 0 {
		log.Logger().Warn("application finished with live allocations",
			zap.String("queueName", lq.queuePath),
			zap.String("appID", appID),
			zap.Int("allocations", count))
	}
	lq.parent.FinishApplication(appID)
	lq.queueMetrics.DecQueueApplicationsRunning()
}

// CompletedContainer releases the resource of a completed container.
// Careful! Locking order is important! The own lock is released before the
// parent is called, see ParentQueue.CompletedContainer.
func (lq *LeafQueue) CompletedContainer(clusterResource, released *resources.Resource) {
	lq.Lock()
	var err error
	lq.usedResources, err = resources.SubErrorNegative(lq.usedResources, released)
	if err != nil {
		log.Logger().Warn("used resources went negative on release",
			zap.String("queueName", lq.queuePath),
			zap.Error(err))
	}
	if lq.numContainers > 0 {
		lq.numContainers--
	}
	lq.queueCapacities.updateUsed(lq.usedResources, clusterResource)
	lq.updateUsageMetrics()
	lq.queueMetrics.IncReleasedContainer()
	lq.Unlock()
	lq.parent.childUsageChanged(lq.name)
	lq.parent.CompletedContainer(clusterResource, released)
}

// CompletedAllocation handles a container completion reported with its
// allocation ID: untrack it from the owning application and the node, then
// release the resource through the tree.
func (lq *LeafQueue) CompletedAllocation(clusterResource *resources.Resource, node *Node, allocationID string) *Allocation {
	lq.Lock()
	appID, tracked := lq.allocToApp[allocationID]
	delete(lq.allocToApp, allocationID)
	app := lq.applications[appID]
	lq.Unlock()
	if !tracked {
		log.Logger().Warn("completion for unknown allocation",
			zap.String("queueName", lq.queuePath),
			zap.String("allocationID", allocationID))
		return nil
	}
	var alloc *Allocation
	if app != nil {
		alloc = app.removeAllocation(allocationID)
	}
	if node != nil {
		if nodeAlloc := node.RemoveAllocation(allocationID); alloc == nil {
			alloc = nodeAlloc
		}
	}
	if alloc == nil {
		return nil
	}
	lq.CompletedContainer(clusterResource, alloc.AllocatedResource)
	return alloc
}

// RecoverContainer adds usage reported by a re-registering node, bypassing
// the maximum capacity admission: the container is already running.
func (lq *LeafQueue) RecoverContainer(clusterResource, allocated *resources.Resource) {
	lq.Lock()
	lq.usedResources.AddTo(allocated)
	lq.numContainers++
	lq.queueCapacities.updateUsed(lq.usedResources, clusterResource)
	lq.updateUsageMetrics()
	lq.queueMetrics.IncRecoveredContainer()
	lq.Unlock()
	lq.parent.childUsageChanged(lq.name)
	lq.parent.RecoverContainer(clusterResource, allocated)
}

// RecoverAllocation is the full recovery path: re-track the allocation on
// the owning application and the node, then account the usage through the
// tree. The application must have been re-submitted before recovery.
func (lq *LeafQueue) RecoverAllocation(clusterResource *resources.Resource, node *Node, alloc *Allocation) error {
	lq.RLock()
	app := lq.applications[alloc.ApplicationID]
	lq.RUnlock()
	if app == nil {
		return fmt.Errorf("cannot recover allocation %s: application %s not found in queue %s",
			alloc.AllocationID, alloc.ApplicationID, lq.queuePath)
	}
	if err := node.AddAllocation(alloc); err != nil {
		return fmt.Errorf("cannot recover allocation %s on node %s: %s", alloc.AllocationID, node.NodeID, err)
	}
	app.recoverAllocation(alloc)
	lq.Lock()
	lq.allocToApp[alloc.AllocationID] = alloc.ApplicationID
	lq.Unlock()
	lq.RecoverContainer(clusterResource, alloc.AllocatedResource)
	return nil
}

// Reinitialize applies the configuration of a freshly parsed replacement
// leaf: capacities, ACLs and state change, the applications and usage stay.
func (lq *LeafQueue) Reinitialize(replacement Queue, clusterResource *resources.Resource) error {
	if replacement == nil || replacement.QueuePath() != lq.queuePath {
		return fmt.Errorf("mismatched reinitialize target for queue %s", lq.queuePath)
	}
	if err := lq.validateReplacement(replacement); err != nil {
		return err
	}
	newLQ := replacement.(*LeafQueue)
	lq.Lock()
	lq.queueCapacities.capacity = newLQ.queueCapacities.capacity
	lq.queueCapacities.maximumCapacity = newLQ.queueCapacities.maximumCapacity
	lq.queueCapacities.absoluteCapacity = newLQ.queueCapacities.absoluteCapacity
	lq.queueCapacities.absoluteMaximumCapacity = newLQ.queueCapacities.absoluteMaximumCapacity
	lq.submitACL = newLQ.submitACL
	lq.adminACL = newLQ.adminACL
	confState := newLQ.confState
	lq.confState = confState
	lq.queueCapacities.updateUsed(lq.usedResources, clusterResource)
	lq.updateUsageMetrics()
	lq.updateCapacityMetrics()
	lq.Unlock()
	return applyConfState(lq.stateMachine, confState, lq.queuePath)
}

func (lq *LeafQueue) validateReplacement(replacement Queue) error {
	if _, ok := replacement.(*LeafQueue); !ok {
		return fmt.Errorf("mismatched queue kinds at %s: leaf queue replaced by a parent", lq.queuePath)
	}
	return nil
}

// UpdateClusterResource recomputes the derived usage after the cluster
// total changed.
func (lq *LeafQueue) UpdateClusterResource(clusterResource *resources.Resource) {
	lq.Lock()
	defer lq.Unlock()
	lq.queueCapacities.updateUsed(lq.usedResources, clusterResource)
	lq.updateUsageMetrics()
}

func (lq *LeafQueue) setParent(parent *ParentQueue) {
	lq.parent = parent
}

// unlocked call, must be called holding the queue lock
func (lq *LeafQueue) updateUsageMetrics() {
	lq.queueMetrics.SetUsedCapacity(lq.queueCapacities.usedCapacity)
	lq.queueMetrics.SetAbsoluteUsedCapacity(lq.queueCapacities.absoluteUsedCapacity)
}

// unlocked call, must be called holding the queue lock or during create
func (lq *LeafQueue) updateCapacityMetrics() {
	lq.queueMetrics.SetConfiguredCapacity(lq.queueCapacities.capacity)
	lq.queueMetrics.SetAbsoluteCapacity(lq.queueCapacities.absoluteCapacity)
	lq.queueMetrics.SetMaximumCapacity(lq.queueCapacities.maximumCapacity)
	lq.queueMetrics.SetAbsoluteMaximumCapacity(lq.queueCapacities.absoluteMaximumCapacity)
}

func removeString(list []string, value string) []string {
	for i, entry := range list {
		if entry == value {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (lq *LeafQueue) String() string {
	lq.RLock()
	defer lq.RUnlock()
	return fmt.Sprintf("{QueuePath: %s, State: %s, Capacity: %.4f, AbsoluteCapacity: %.4f, UsedResources: %s, Applications: %d}",
		lq.queuePath, lq.CurrentState(), lq.queueCapacities.capacity, lq.queueCapacities.absoluteCapacity, lq.usedResources, len(lq.applications))
}
