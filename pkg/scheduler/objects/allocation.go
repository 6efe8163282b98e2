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
	"time"

	"github.com/google/uuid"

	"github.com/capsched/capsched-core/pkg/common/resources"
)

// Allocation is one placed container: the result of matching an ask against
// a node. Identified by a generated ID, immutable after creation.
type Allocation struct {
	AllocationID      string
	ApplicationID     string
	QueuePath         string
	NodeID            string
	AllocatedResource *resources.Resource
	Locality          Locality
	createTime        time.Time
}

func NewAllocation(appID, queuePath, nodeID string, locality Locality, allocated *resources.Resource) *Allocation {
	return &Allocation{
		AllocationID:      uuid.NewString(),
		ApplicationID:     appID,
		QueuePath:         queuePath,
		NodeID:            nodeID,
		AllocatedResource: allocated.Clone(),
		Locality:          locality,
		createTime:        time.Now(),
	}
}

func (a *Allocation) String() string {
	if a == nil {
		return "nil allocation"
	}
	return fmt.Sprintf("allocationID %s, app %s, queue %s, node %s, resource %s (%s)",
		a.AllocationID, a.ApplicationID, a.QueuePath, a.NodeID, a.AllocatedResource, a.Locality)
}

// Assignment is the aggregate outcome of one assignContainers call: the
// total resource handed out and the locality of the best placement.
type Assignment struct {
	AssignedResource *resources.Resource
	Locality         Locality
}

func newAssignment() *Assignment {
	return &Assignment{
		AssignedResource: resources.NewResource(),
		Locality:         LocalityNone,
	}
}

// add merges a child assignment into the running aggregate.
func (a *Assignment) add(other *Assignment) {
	if other == nil {
		return
	}
	a.AssignedResource.AddTo(other.AssignedResource)
	a.Locality = betterLocality(a.Locality, other.Locality)
}

// IsEmpty returns true when nothing was assigned.
func (a *Assignment) IsEmpty() bool {
	return a == nil || !resources.StrictlyGreaterThanZero(a.AssignedResource)
}
