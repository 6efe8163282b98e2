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

// ParentQueue is an inner node of the capacity tree. It owns child queues,
// holds no applications of its own and recursively delegates assignment to
// the most starved child first.
type ParentQueue struct {
	name      string
	queuePath string

	// Private fields need protection
	parent          *ParentQueue
	qctx            *QueueContext
	queueCapacities queueCapacities
	usedResources   *resources.Resource
	numApplications int
	numContainers   int
	submitACL       security.ACL
	adminACL        security.ACL
	confState       string
	stateMachine    *fsm.FSM
	children        *childQueueSet
	queueMetrics    *metrics.QueueMetrics

	locking.RWMutex
}

// NewParentQueue creates an inner tree node from the configuration snapshot.
// A nil parent signals the root: the raw configured capacity must then be
// exactly 100%. lock free as the queue cannot be referenced yet.
func NewParentQueue(conf configs.QueueConfig, parent *ParentQueue, qctx *QueueContext) (*ParentQueue, error) {
	pq := &ParentQueue{
		name:          strings.ToLower(conf.Name),
		parent:        parent,
		qctx:          qctx,
		usedResources: resources.NewResource(),
		children:      newChildQueueSet(),
	}
	pq.queuePath = pq.name
	parentAbs, parentAbsMax := 1.0, 1.0
	if parent != nil {
		pq.queuePath = parent.QueuePath() + configs.DOT + pq.name
		parentAbs = parent.AbsoluteCapacity()
		parentAbsMax = parent.AbsoluteMaximumCapacity()
	}

	var err error
	pq.queueCapacities, err = newQueueCapacities(conf, parentAbs, parentAbsMax, parent == nil)
	if err != nil {
		return nil, fmt.Errorf("parent queue %s creation failed: %s", pq.queuePath, err)
	}
	pq.submitACL, pq.adminACL, err = aclsFromConf(conf)
	if err != nil {
		return nil, fmt.Errorf("parent queue %s creation failed: %s", pq.queuePath, err)
	}
	pq.stateMachine = NewObjectState()
	pq.confState = conf.State
	if err = applyConfState(pq.stateMachine, conf.State, pq.queuePath); err != nil {
		return nil, fmt.Errorf("parent queue %s creation failed: %s", pq.queuePath, err)
	}
	// the metrics sink is keyed by queue path and survives reinitialize
	pq.queueMetrics = metrics.GetQueueMetrics(pq.queuePath)
	pq.updateCapacityMetrics()

	log.Logger().Debug("configured parent queue added to scheduler",
		zap.String("queueName", pq.queuePath))
	return pq, nil
}

// setChildQueues validates the candidate set against the capacity sum
// invariant and atomically replaces the ordered child set.
// The all zero case represents an administratively disabled subtree.
func (pq *ParentQueue) setChildQueues(children []Queue) error {
	if err := checkChildCapacitySum(pq.Capacity(), children); err != nil {
		return fmt.Errorf("queue %s: %s", pq.QueuePath(), err)
	}
	pq.children.setAll(children)
	return nil
}

func (pq *ParentQueue) Name() string {
	return pq.name
}

func (pq *ParentQueue) QueuePath() string {
	return pq.queuePath
}

func (pq *ParentQueue) IsLeafQueue() bool {
	return false
}

func (pq *ParentQueue) Capacity() float64 {
	pq.RLock()
	defer pq.RUnlock()
	return pq.queueCapacities.capacity
}

func (pq *ParentQueue) AbsoluteCapacity() float64 {
	pq.RLock()
	defer pq.RUnlock()
	return pq.queueCapacities.absoluteCapacity
}

func (pq *ParentQueue) MaximumCapacity() float64 {
	pq.RLock()
	defer pq.RUnlock()
	return pq.queueCapacities.maximumCapacity
}

func (pq *ParentQueue) AbsoluteMaximumCapacity() float64 {
	pq.RLock()
	defer pq.RUnlock()
	return pq.queueCapacities.absoluteMaximumCapacity
}

func (pq *ParentQueue) UsedCapacity() float64 {
	pq.RLock()
	defer pq.RUnlock()
	return pq.queueCapacities.usedCapacity
}

func (pq *ParentQueue) AbsoluteUsedCapacity() float64 {
	pq.RLock()
	defer pq.RUnlock()
	return pq.queueCapacities.absoluteUsedCapacity
}

func (pq *ParentQueue) UsedResources() *resources.Resource {
	pq.RLock()
	defer pq.RUnlock()
	return pq.usedResources.Clone()
}

func (pq *ParentQueue) NumApplications() int {
	pq.RLock()
	defer pq.RUnlock()
	return pq.numApplications
}

func (pq *ParentQueue) NumContainers() int {
	pq.RLock()
	defer pq.RUnlock()
	return pq.numContainers
}

func (pq *ParentQueue) CurrentState() string {
	return pq.stateMachine.Current()
}

func (pq *ParentQueue) IsRunning() bool {
	return pq.stateMachine.Is(Active.String())
}

func (pq *ParentQueue) IsStopped() bool {
	return pq.stateMachine.Is(Stopped.String())
}

func (pq *ParentQueue) IsDraining() bool {
	return pq.stateMachine.Is(Draining.String())
}

// Check if the user has access to the queue to submit an application.
// This will check the submit ACL and the admin ACL, walking up the parent
// chain: a user allowed at an ancestor is allowed at all its descendants.
func (pq *ParentQueue) CheckSubmitAccess(user security.UserGroup) bool {
	pq.RLock()
	allow := pq.submitACL.CheckAccess(user) || pq.adminACL.CheckAccess(user)
	pq.RUnlock()
	if !allow && pq.parent != nil {
		allow = pq.parent.CheckSubmitAccess(user)
	}
	return allow
}

// Check if the user has access to the queue for admin actions recursively.
func (pq *ParentQueue) CheckAdminAccess(user security.UserGroup) bool {
	pq.RLock()
	allow := pq.adminACL.CheckAccess(user)
	pq.RUnlock()
	if !allow && pq.parent != nil {
		allow = pq.parent.CheckAdminAccess(user)
	}
	return allow
}

// GetChildQueue returns a child by name, nil when not present.
func (pq *ParentQueue) GetChildQueue(name string) Queue {
	return pq.children.get(strings.ToLower(name))
}

// GetCopyOfChildren returns the name to queue mapping of the direct children.
func (pq *ParentQueue) GetCopyOfChildren() map[string]Queue {
	return pq.children.all()
}

func (pq *ParentQueue) isRoot() bool {
	return pq.parent == nil
}

// AssignContainers offers the node to this subtree and returns the aggregate
// assignment. The loop delegates to the children most starved first and
// repeats at the root until the node has nothing left to offer, a non root
// queue assigns at most once per call so a single heartbeat cannot drain a
// node into one subtree.
// Lock free call, the per queue locks are taken when needed in called functions.
func (pq *ParentQueue) AssignContainers(clusterResource *resources.Resource, node *Node) *Assignment {
	assigned := newAssignment()
	for {
		// nothing can be offered on a reserved node or below the minimum allocation
		if node.IsReserved() || !resources.FitIn(node.GetAvailableResource(), pq.qctx.MinAllocation) {
			break
		}
		// this queue, and therefore its whole subtree, may be capped
		if !pq.canAssign(clusterResource) {
			break
		}
		childAssigned := pq.assignToChildren(clusterResource, node)
		if childAssigned.IsEmpty() {
			break
		}
		pq.allocateResource(clusterResource, childAssigned.AssignedResource)
		assigned.add(childAssigned)
		if !pq.isRoot() {
			break
		}
		// off-switch assignments are expensive, never pile them up in a
		// single heartbeat
		if childAssigned.Locality == OffSwitch {
			break
		}
	}
	return assigned
}

// canAssign checks the capacity admission: a queue at or above its absolute
// maximum refuses all further assignment regardless of child demand.
func (pq *ParentQueue) canAssign(clusterResource *resources.Resource) bool {
	pq.RLock()
	defer pq.RUnlock()
	currentAbsoluteUsed := resources.FractionOfCluster(pq.usedResources, clusterResource)
	return currentAbsoluteUsed < pq.queueCapacities.absoluteMaximumCapacity
}

// assignToChildren offers the node to each child in starvation order until
// one accepts. The accepting child is removed and reinserted into the
// ordered set, its usedCapacity just changed.
func (pq *ParentQueue) assignToChildren(clusterResource *resources.Resource, node *Node) *Assignment {
	for _, child := range pq.children.sorted() {
		// a stopped queue still services what it has, assignment to its
		// subtree continues; only scheduling errors skip the child
		childAssigned := pq.tryChildAssign(child, clusterResource, node)
		if !childAssigned.IsEmpty() {
			pq.children.reinsert(child.Name())
			return childAssigned
		}
	}
	return nil
}

// tryChildAssign delegates to one child. A scheduling error inside a child
// must not abort sibling scheduling: it is logged and treated as a zero
// assignment for that child this pass.
func (pq *ParentQueue) tryChildAssign(child Queue, clusterResource *resources.Resource, node *Node) (assigned *Assignment) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger().Error("child queue failed during assignment, skipping this pass",
				zap.String("queueName", child.QueuePath()),
				zap.String("nodeID", node.NodeID),
				zap.Any("error", r))
			assigned = nil
		}
	}()
	return child.AssignContainers(clusterResource, node)
}

// allocateResource books a successful child assignment on this queue:
// increment usedResources, recompute the derived capacities and count the
// container. Takes only this queue's own lock.
func (pq *ParentQueue) allocateResource(clusterResource, allocated *resources.Resource) {
	pq.Lock()
	defer pq.Unlock()
	pq.usedResources.AddTo(allocated)
	pq.numContainers++
	pq.queueCapacities.updateUsed(pq.usedResources, clusterResource)
	pq.updateUsageMetrics()
	pq.queueMetrics.IncAllocatedContainer()
}

// CompletedContainer releases the resource of a completed container and
// propagates the release to the parent so the ancestors' aggregate stays
// consistent.
// Careful! Locking order is important! This queue updates its own counters
// under its own lock and releases that lock before the parent is invoked,
// the parent then repeats the pattern. Holding the child lock while taking
// the parent lock would deadlock against a downward propagating call.
func (pq *ParentQueue) CompletedContainer(clusterResource, released *resources.Resource) {
	pq.releaseResource(clusterResource, released)
	// own lock is free again, now walk up
	if pq.parent != nil {
		pq.parent.childUsageChanged(pq.name)
		pq.parent.CompletedContainer(clusterResource, released)
	}
}

// releaseResource is the inverse of allocateResource, guarded against going
// negative.
func (pq *ParentQueue) releaseResource(clusterResource, released *resources.Resource) {
	pq.Lock()
	defer pq.Unlock()
	var err error
	pq.usedResources, err = resources.SubErrorNegative(pq.usedResources, released)
	if err != nil {
		log.Logger().Warn("used resources went negative on release",
			zap.String("queueName", pq.queuePath),
			zap.Error(err))
	}
	if pq.numContainers > 0 {
		pq.numContainers--
	}
	pq.queueCapacities.updateUsed(pq.usedResources, clusterResource)
	pq.updateUsageMetrics()
	pq.queueMetrics.IncReleasedContainer()
}

// childUsageChanged re-sorts the named child in the ordered set after its
// usage changed outside an assignment pass. The set has its own lock, the
// caller must not hold this queue's lock.
func (pq *ParentQueue) childUsageChanged(name string) {
	pq.children.reinsert(name)
}

// RecoverContainer adds usage reported by a re-registering node. Recovery
// bypasses the maximum capacity admission: the containers are already
// running, refusing them would only corrupt the accounting.
func (pq *ParentQueue) RecoverContainer(clusterResource, allocated *resources.Resource) {
	pq.Lock()
	pq.usedResources.AddTo(allocated)
	pq.numContainers++
	pq.queueCapacities.updateUsed(pq.usedResources, clusterResource)
	pq.updateUsageMetrics()
	pq.queueMetrics.IncRecoveredContainer()
	pq.Unlock()
	// same discipline as CompletedContainer: own lock released before the
	// parent is called
	if pq.parent != nil {
		pq.parent.childUsageChanged(pq.name)
		pq.parent.RecoverContainer(clusterResource, allocated)
	}
}

// SubmitApplication accounts an application submission on this parent and
// propagates it up the chain. Applications may only be submitted to leaves:
// targeting this queue directly is rejected. A rejection by an ancestor
// rolls back the local increment before it is returned to the caller.
func (pq *ParentQueue) SubmitApplication(appID, queueName string, user security.UserGroup) error {
	pq.Lock()
	if !pq.IsRunning() {
		pq.Unlock()
		return fmt.Errorf("queue %s is %s, cannot accept application %s",
			pq.queuePath, pq.CurrentState(), appID)
	}
	if queueName == pq.name {
		pq.Unlock()
		return fmt.Errorf("cannot submit application %s to non leaf queue %s", appID, pq.queuePath)
	}
	pq.numApplications++
	pq.Unlock()

	if pq.parent != nil {
		if err := pq.parent.SubmitApplication(appID, queueName, user); err != nil {
			// roll back the local increment before re-raising
			pq.Lock()
			pq.numApplications--
			pq.Unlock()
			return err
		}
	}
	pq.queueMetrics.IncQueueApplicationsRunning()
	return nil
}

// FinishApplication is the symmetric decrement, propagated upward, with no
// rejection path.
func (pq *ParentQueue) FinishApplication(appID string) {
	pq.Lock()
	if pq.numApplications > 0 {
		pq.numApplications--
		pq.queueMetrics.DecQueueApplicationsRunning()
	} else {
		log.Logger().Warn("application count went negative",
			zap.String("queueName", pq.queuePath),
			zap.String("appID", appID))
	}
	pq.Unlock()
	if pq.parent != nil {
		pq.parent.FinishApplication(appID)
	}
}

// Reinitialize applies a freshly parsed replacement subtree to this queue in
// place: queues that still exist keep their identity, in-flight applications
// and usage counters, new queues are spliced in. Any validation failure
// aborts before the first mutation, the old tree is then left untouched.
// Must only be called while the scheduler serializes reconfiguration against
// assignment.
func (pq *ParentQueue) Reinitialize(replacement Queue, clusterResource *resources.Resource) error {
	if replacement == nil || replacement.QueuePath() != pq.queuePath {
		return fmt.Errorf("mismatched reinitialize target for queue %s", pq.queuePath)
	}
	if err := pq.validateReplacement(replacement); err != nil {
		return err
	}
	return pq.applyReplacement(replacement.(*ParentQueue), clusterResource)
}

// validateReplacement checks the replacement subtree is structurally
// compatible: the same kind of node at every path both trees share.
func (pq *ParentQueue) validateReplacement(replacement Queue) error {
	newPQ, ok := replacement.(*ParentQueue)
	if !ok {
		return fmt.Errorf("mismatched queue kinds at %s: parent queue replaced by a leaf", pq.queuePath)
	}
	current := pq.children.all()
	for name, newChild := range newPQ.children.all() {
		if existing, found := current[name]; found {
			if err := existing.validateReplacement(newChild); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyReplacement copies the configuration derived state of the replacement
// onto this queue and merges the child sets. The replacement tree passed the
// construction validation, nothing in here can fail on capacity numbers.
func (pq *ParentQueue) applyReplacement(newPQ *ParentQueue, clusterResource *resources.Resource) error {
	pq.Lock()
	pq.queueCapacities.capacity = newPQ.queueCapacities.capacity
	pq.queueCapacities.maximumCapacity = newPQ.queueCapacities.maximumCapacity
	pq.queueCapacities.absoluteCapacity = newPQ.queueCapacities.absoluteCapacity
	pq.queueCapacities.absoluteMaximumCapacity = newPQ.queueCapacities.absoluteMaximumCapacity
	pq.submitACL = newPQ.submitACL
	pq.adminACL = newPQ.adminACL
	confState := newPQ.confState
	pq.confState = confState
	pq.Unlock()
	if err := applyConfState(pq.stateMachine, confState, pq.queuePath); err != nil {
		return err
	}

	// merge the children: same name means same queue, keep its identity
	current := pq.children.all()
	merged := make([]Queue, 0, newPQ.children.len())
	for name, newChild := range newPQ.children.all() {
		if existing, found := current[name]; found {
			if err := existing.Reinitialize(newChild, clusterResource); err != nil {
				return err
			}
			merged = append(merged, existing)
		} else {
			// a brand new queue has no prior state, attach as is
			newChild.setParent(pq)
			merged = append(merged, newChild)
		}
	}
	// queues missing from the replacement were validated as removable by
	// the configuration loader before this call

	// recompute own usage against the new capacity numbers, then rebuild
	// the ordered set with fresh sort keys
	pq.Lock()
	pq.queueCapacities.updateUsed(pq.usedResources, clusterResource)
	pq.updateUsageMetrics()
	pq.updateCapacityMetrics()
	pq.Unlock()
	pq.children.setAll(merged)

	log.Logger().Info("parent queue reinitialized",
		zap.String("queueName", pq.queuePath),
		zap.Int("children", len(merged)))
	return nil
}

// UpdateClusterResource recomputes the derived usage numbers after the
// cluster total changed (node join or leave). The recomputation is
// idempotent, a momentarily stale reader self corrects on the next update.
func (pq *ParentQueue) UpdateClusterResource(clusterResource *resources.Resource) {
	pq.Lock()
	pq.queueCapacities.updateUsed(pq.usedResources, clusterResource)
	pq.updateUsageMetrics()
	pq.Unlock()
	children := pq.children.sorted()
	for _, child := range children {
		child.UpdateClusterResource(clusterResource)
	}
	// child usedCapacity values changed, refresh the sort keys
	pq.children.setAll(children)
}

func (pq *ParentQueue) setParent(parent *ParentQueue) {
	pq.parent = parent
}

// metric updates never block or fail the scheduling operation
// unlocked call, must be called holding the queue lock
func (pq *ParentQueue) updateUsageMetrics() {
	pq.queueMetrics.SetUsedCapacity(pq.queueCapacities.usedCapacity)
	pq.queueMetrics.SetAbsoluteUsedCapacity(pq.queueCapacities.absoluteUsedCapacity)
}

// unlocked call, must be called holding the queue lock or during create
func (pq *ParentQueue) updateCapacityMetrics() {
	pq.queueMetrics.SetConfiguredCapacity(pq.queueCapacities.capacity)
	pq.queueMetrics.SetAbsoluteCapacity(pq.queueCapacities.absoluteCapacity)
	pq.queueMetrics.SetMaximumCapacity(pq.queueCapacities.maximumCapacity)
	pq.queueMetrics.SetAbsoluteMaximumCapacity(pq.queueCapacities.absoluteMaximumCapacity)
}

func (pq *ParentQueue) String() string {
	pq.RLock()
	defer pq.RUnlock()
	return fmt.Sprintf("{QueuePath: %s, State: %s, Capacity: %.4f, AbsoluteCapacity: %.4f, UsedResources: %s}",
		pq.queuePath, pq.CurrentState(), pq.queueCapacities.capacity, pq.queueCapacities.absoluteCapacity, pq.usedResources)
}
