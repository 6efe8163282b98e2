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
	"context"

	"github.com/looplab/fsm"

	"github.com/capsched/capsched-core/pkg/common/configs"
	"github.com/capsched/capsched-core/pkg/common/resources"
	"github.com/capsched/capsched-core/pkg/common/security"
)

// QueueContext carries the scheduler wide settings a queue needs during
// scheduling. Shared by every queue in one tree, immutable after creation.
type QueueContext struct {
	MinAllocation *resources.Resource
}

// Queue is the capability set shared by both tree node variants. The parent
// queue algorithm schedules any child through this contract and never
// inspects whether the child is itself a parent or a leaf.
type Queue interface {
	Name() string
	QueuePath() string
	IsLeafQueue() bool

	Capacity() float64
	AbsoluteCapacity() float64
	MaximumCapacity() float64
	AbsoluteMaximumCapacity() float64
	UsedCapacity() float64
	AbsoluteUsedCapacity() float64
	UsedResources() *resources.Resource
	NumApplications() int
	NumContainers() int

	CurrentState() string
	IsRunning() bool
	IsStopped() bool
	IsDraining() bool
	CheckSubmitAccess(user security.UserGroup) bool
	CheckAdminAccess(user security.UserGroup) bool

	AssignContainers(clusterResource *resources.Resource, node *Node) *Assignment
	SubmitApplication(appID, queueName string, user security.UserGroup) error
	FinishApplication(appID string)
	CompletedContainer(clusterResource, released *resources.Resource)
	RecoverContainer(clusterResource, allocated *resources.Resource)
	Reinitialize(replacement Queue, clusterResource *resources.Resource) error
	UpdateClusterResource(clusterResource *resources.Resource)

	// tree surgery during reinitialize, only called while the scheduler
	// holds its coarse reconfiguration lock
	setParent(parent *ParentQueue)
	// structural pre-check of a replacement subtree: a reinitialize must
	// either fully apply or leave the old tree untouched
	validateReplacement(replacement Queue) error
}

// NewQueue builds a queue, and for a parent its whole subtree, from the
// configuration snapshot. A nil parent signals the root.
func NewQueue(conf configs.QueueConfig, parent *ParentQueue, qctx *QueueContext) (Queue, error) {
	if conf.IsParent() {
		pq, err := NewParentQueue(conf, parent, qctx)
		if err != nil {
			return nil, err
		}
		children := make([]Queue, 0, len(conf.Queues))
		for _, childConf := range conf.Queues {
			child, err := NewQueue(childConf, pq, qctx)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if err = pq.setChildQueues(children); err != nil {
			return nil, err
		}
		return pq, nil
	}
	return NewLeafQueue(conf, parent, qctx)
}

// parse both ACLs from the queue config
func aclsFromConf(conf configs.QueueConfig) (submit, admin security.ACL, err error) {
	submit, err = security.NewACL(conf.SubmitACL)
	if err != nil {
		return submit, admin, err
	}
	admin, err = security.NewACL(conf.AdminACL)
	return submit, admin, err
}

// move the state machine into the administrative state from the config
func applyConfState(stateMachine *fsm.FSM, confState, queuePath string) error {
	var event ObjectEvent
	switch confState {
	case "", configs.StateRunning:
		event = Start
	case configs.StateStopped:
		event = Stop
	case configs.StateDraining:
		event = Remove
	}
	err := stateMachine.Event(context.Background(), event.String(), queuePath)
	if err == nil {
		return nil
	}
	// handle the same state transition not nil error (limit of fsm)
	if err.Error() == noTransition {
		return nil
	}
	return err
}
