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
	"testing"

	"gotest.tools/v3/assert"

	"github.com/capsched/capsched-core/pkg/common/resources"
)

func TestNodeResources(t *testing.T) {
	node := NewNode("node-1", "rack-1", res(4000, 4))
	assert.Assert(t, resources.Equals(res(4000, 4), node.GetTotalResource()), "total resource changed on create")
	assert.Assert(t, resources.Equals(res(4000, 4), node.GetAvailableResource()), "new node must be fully available")
	assert.Assert(t, resources.IsZero(node.GetAllocatedResource()), "new node must have nothing allocated")
}

func TestNodeAllocationLifecycle(t *testing.T) {
	node := NewNode("node-1", "rack-1", res(4000, 4))
	alloc := NewAllocation("app-1", "root.a", "node-1", NodeLocal, res(1500, 1))
	assert.NilError(t, node.AddAllocation(alloc), "allocation should fit on an empty node")
	assert.Assert(t, resources.Equals(res(2500, 3), node.GetAvailableResource()))
	assert.Assert(t, resources.Equals(res(1500, 1), node.GetAllocatedResource()))
	assert.Equal(t, alloc, node.GetAllocation(alloc.AllocationID))
	assert.Equal(t, 1, len(node.GetAllAllocations()))

	// a second allocation that does not fit must be rejected without change
	tooBig := NewAllocation("app-1", "root.a", "node-1", NodeLocal, res(3000, 1))
	err := node.AddAllocation(tooBig)
	assert.Assert(t, err != nil, "oversized allocation should have been rejected")
	assert.Assert(t, resources.Equals(res(2500, 3), node.GetAvailableResource()), "rejected allocation changed the node")

	removed := node.RemoveAllocation(alloc.AllocationID)
	assert.Equal(t, alloc, removed)
	assert.Assert(t, resources.Equals(res(4000, 4), node.GetAvailableResource()), "resource not returned on removal")
	assert.Assert(t, node.RemoveAllocation("unknown") == nil, "removing an unknown allocation must return nil")
}

func TestNodeReservation(t *testing.T) {
	node := NewNode("node-1", "rack-1", res(4000, 4))
	assert.Assert(t, !node.IsReserved())
	assert.NilError(t, node.Reserve("app-1"))
	assert.Assert(t, node.IsReserved())
	// re-reserving for the same application is allowed
	assert.NilError(t, node.Reserve("app-1"))
	err := node.Reserve("app-2")
	assert.Assert(t, err != nil, "reservation for a second application should fail")
	node.UnReserve()
	assert.Assert(t, !node.IsReserved())
	assert.NilError(t, node.Reserve("app-2"), "node should be free after unreserve")
}
