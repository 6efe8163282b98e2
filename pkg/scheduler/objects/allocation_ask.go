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
	"time"

	"github.com/capsched/capsched-core/pkg/common/resources"
)

// AllocationAsk is an outstanding request of an application: a per container
// resource, a repeat count and optional placement preferences. Preferences
// only influence the locality classification, they are never hard
// requirements.
type AllocationAsk struct {
	AskID          string
	ApplicationID  string
	PerAllocation  *resources.Resource
	PendingAsks    int
	PreferredNodes []string
	PreferredRacks []string
	createTime     time.Time
}

func NewAllocationAsk(askID, appID string, perAllocation *resources.Resource, repeat int) *AllocationAsk {
	return &AllocationAsk{
		AskID:         askID,
		ApplicationID: appID,
		PerAllocation: perAllocation.Clone(),
		PendingAsks:   repeat,
		createTime:    time.Now(),
	}
}

// localityFor classifies an assignment of this ask onto the node.
// An ask without preferences can run anywhere at off-switch cost.
func (aa *AllocationAsk) localityFor(node *Node) Locality {
	for _, preferred := range aa.PreferredNodes {
		if preferred == node.NodeID {
			return NodeLocal
		}
	}
	for _, preferred := range aa.PreferredRacks {
		if preferred == node.Rack {
			return RackLocal
		}
	}
	return OffSwitch
}

// pendingResource is the total resource still outstanding for this ask.
func (aa *AllocationAsk) pendingResource() *resources.Resource {
	return resources.MultiplyBy(aa.PerAllocation, float64(aa.PendingAsks))
}
