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

	"go.uber.org/zap"

	"github.com/capsched/capsched-core/pkg/common/resources"
	"github.com/capsched/capsched-core/pkg/locking"
	"github.com/capsched/capsched-core/pkg/log"
)

// Node is the descriptor of one worker offered to the scheduler on a
// heartbeat: its capacity, what is left of it and whether an application
// holds a reservation on it. The heartbeat transport owns the lifecycle,
// the scheduler only reads and adjusts the resource numbers.
type Node struct {
	NodeID string
	Rack   string

	totalResource     *resources.Resource
	availableResource *resources.Resource
	allocations       map[string]*Allocation
	reservedApp       string

	locking.RWMutex
}

func NewNode(nodeID, rack string, total *resources.Resource) *Node {
	return &Node{
		NodeID:            nodeID,
		Rack:              rack,
		totalResource:     total.Clone(),
		availableResource: total.Clone(),
		allocations:       make(map[string]*Allocation),
	}
}

func (sn *Node) GetTotalResource() *resources.Resource {
	sn.RLock()
	defer sn.RUnlock()
	return sn.totalResource.Clone()
}

func (sn *Node) GetAvailableResource() *resources.Resource {
	sn.RLock()
	defer sn.RUnlock()
	return sn.availableResource.Clone()
}

// Return the allocated resource on the node: total minus available.
func (sn *Node) GetAllocatedResource() *resources.Resource {
	sn.RLock()
	defer sn.RUnlock()
	return resources.Sub(sn.totalResource, sn.availableResource)
}

// IsReserved returns true when an application holds a reservation on this
// node. A reserved node is skipped by assignContainers until released.
func (sn *Node) IsReserved() bool {
	sn.RLock()
	defer sn.RUnlock()
	return sn.reservedApp != ""
}

// Reserve the node for the application. Returns an error if the node is
// already reserved for a different application.
func (sn *Node) Reserve(appID string) error {
	sn.Lock()
	defer sn.Unlock()
	if sn.reservedApp != "" && sn.reservedApp != appID {
		return fmt.Errorf("node %s is already reserved for application %s", sn.NodeID, sn.reservedApp)
	}
	sn.reservedApp = appID
	return nil
}

// UnReserve removes the reservation, a noop when nothing is reserved.
func (sn *Node) UnReserve() {
	sn.Lock()
	defer sn.Unlock()
	sn.reservedApp = ""
}

// AddAllocation adds the allocation to the node and decreases the available
// resource. Fails if the allocation does not fit in what is left.
func (sn *Node) AddAllocation(alloc *Allocation) error {
	sn.Lock()
	defer sn.Unlock()
	if !resources.FitIn(sn.availableResource, alloc.AllocatedResource) {
		return fmt.Errorf("allocation %s does not fit in node %s available resource %s",
			alloc.AllocationID, sn.NodeID, sn.availableResource)
	}
	sn.allocations[alloc.AllocationID] = alloc
	sn.availableResource.SubFrom(alloc.AllocatedResource)
	return nil
}

// RemoveAllocation removes the allocation and returns its resource to the
// available pool. Returns nil if the allocation was not on this node.
func (sn *Node) RemoveAllocation(allocationID string) *Allocation {
	sn.Lock()
	defer sn.Unlock()
	alloc := sn.allocations[allocationID]
	if alloc == nil {
		log.Logger().Debug("allocation not found on node",
			zap.String("nodeID", sn.NodeID),
			zap.String("allocationID", allocationID))
		return nil
	}
	delete(sn.allocations, allocationID)
	sn.availableResource.AddTo(alloc.AllocatedResource)
	return alloc
}

func (sn *Node) GetAllocation(allocationID string) *Allocation {
	sn.RLock()
	defer sn.RUnlock()
	return sn.allocations[allocationID]
}

// GetAllAllocations returns a copy of the allocations on this node.
func (sn *Node) GetAllAllocations() []*Allocation {
	sn.RLock()
	defer sn.RUnlock()
	allocs := make([]*Allocation, 0, len(sn.allocations))
	for _, alloc := range sn.allocations {
		allocs = append(allocs, alloc)
	}
	return allocs
}

func (sn *Node) String() string {
	sn.RLock()
	defer sn.RUnlock()
	return fmt.Sprintf("{NodeID: %s, Rack: %s, Total: %s, Available: %s, Allocations: %d}",
		sn.NodeID, sn.Rack, sn.totalResource, sn.availableResource, len(sn.allocations))
}
