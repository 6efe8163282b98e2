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
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/capsched/capsched-core/pkg/common/configs"
	"github.com/capsched/capsched-core/pkg/common/resources"
)

func TestLeafQueueBasics(t *testing.T) {
	root := createTree(t, rootConf(leafConf("a", 100, 100)))
	leaf := getLeaf(t, root, "a")
	assert.Assert(t, leaf.IsLeafQueue(), "leaf must report itself as leaf")
	assert.Assert(t, leaf.IsRunning(), "leaf must start running")
	assert.Equal(t, leaf.NumApplications(), 0)
	assert.Equal(t, leaf.NumContainers(), 0)
}

func TestLeafCannotBeRoot(t *testing.T) {
	_, err := NewLeafQueue(leafConf("root", 100, 100), nil, testContext())
	if err == nil || !strings.Contains(err.Error(), "cannot be the root") {
		t.Fatalf("leaf root must be rejected, got: %v", err)
	}
}

func TestSubmitDuplicateApplication(t *testing.T) {
	root := createTree(t, rootConf(leafConf("a", 100, 100)))
	leaf := getLeaf(t, root, "a")
	assert.NilError(t, leaf.SubmitApplication("app-1", "a", testUser()), "first submit failed")
	err := leaf.SubmitApplication("app-1", "a", testUser())
	if err == nil || !strings.Contains(err.Error(), "already submitted") {
		t.Fatalf("duplicate submit must be rejected, got: %v", err)
	}
	assert.Equal(t, leaf.NumApplications(), 1)
	assert.Equal(t, root.NumApplications(), 1, "duplicate must not leak into the root count")
}

func TestSubmitToStoppedLeaf(t *testing.T) {
	conf := rootConf(configs.QueueConfig{
		Name:     "a",
		Capacity: 100,
		State:    configs.StateStopped,
	})
	root := createTree(t, conf)
	leaf := getLeaf(t, root, "a")
	assert.Assert(t, leaf.IsStopped(), "leaf must be stopped")
	err := leaf.SubmitApplication("app-1", "a", testUser())
	if err == nil || !strings.Contains(err.Error(), "cannot accept application") {
		t.Fatalf("stopped leaf must reject submissions, got: %v", err)
	}
}

func TestSubmitAccessDenied(t *testing.T) {
	conf := configs.QueueConfig{
		Name:      configs.RootQueue,
		Parent:    true,
		Capacity:  configs.RootCapacityPercentage,
		SubmitACL: "alloweduser",
		Queues:    []configs.QueueConfig{{Name: "a", Capacity: 100}},
	}
	root := createTree(t, conf)
	leaf := getLeaf(t, root, "a")
	err := leaf.SubmitApplication("app-1", "a", testUser())
	if err == nil || !strings.Contains(err.Error(), "no submit access") {
		t.Fatalf("unauthorized submit must be rejected, got: %v", err)
	}
}

func TestLeafFifoServiceOrder(t *testing.T) {
	root := createTree(t, rootConf(leafConf("a", 100, 100)))
	cluster := res(10000, 10)
	leaf := getLeaf(t, root, "a")
	node := NewNode("node-1", "rack-1", res(10000, 10))

	submitWithAsk(t, leaf, "app-1", res(1000, 1), 1)
	submitWithAsk(t, leaf, "app-2", res(1000, 1), 1)

	// the older application is served first
	assigned := leaf.AssignContainers(cluster, node)
	assert.Assert(t, !assigned.IsEmpty(), "nothing assigned")
	assert.Equal(t, leaf.GetApplication("app-1").allocationCount(), 1, "fifo order violated")
	assert.Equal(t, leaf.GetApplication("app-2").allocationCount(), 0, "fifo order violated")

	assigned = leaf.AssignContainers(cluster, node)
	assert.Assert(t, !assigned.IsEmpty(), "nothing assigned")
	assert.Equal(t, leaf.GetApplication("app-2").allocationCount(), 1, "second app not served")
}

func TestLeafLocalityPreference(t *testing.T) {
	root := createTree(t, rootConf(leafConf("a", 100, 100)))
	cluster := res(10000, 10)
	leaf := getLeaf(t, root, "a")
	localNode := NewNode("node-1", "rack-1", res(10000, 10))
	rackNode := NewNode("node-2", "rack-1", res(10000, 10))
	remoteNode := NewNode("node-3", "rack-2", res(10000, 10))

	assert.NilError(t, leaf.SubmitApplication("app-1", "a", testUser()), "submit failed")
	app := leaf.GetApplication("app-1")
	ask := NewAllocationAsk("ask-1", "app-1", res(1000, 1), 3)
	ask.PreferredNodes = []string{"node-1"}
	ask.PreferredRacks = []string{"rack-1"}
	app.AddAllocationAsk(ask)

	assert.Equal(t, leaf.AssignContainers(cluster, localNode).Locality, NodeLocal)
	assert.Equal(t, leaf.AssignContainers(cluster, rackNode).Locality, RackLocal)
	assert.Equal(t, leaf.AssignContainers(cluster, remoteNode).Locality, OffSwitch)
}

func TestLeafNodeBookkeeping(t *testing.T) {
	root := createTree(t, rootConf(leafConf("a", 100, 100)))
	cluster := res(10000, 10)
	leaf := getLeaf(t, root, "a")
	node := NewNode("node-1", "rack-1", res(4000, 4))
	submitWithAsk(t, leaf, "app-1", res(1000, 1), 5)

	assigned := leaf.AssignContainers(cluster, node)
	assert.Assert(t, !assigned.IsEmpty(), "nothing assigned")
	assert.Assert(t, resources.Equals(node.GetAvailableResource(), res(3000, 3)),
		"node available not decremented, got %s", node.GetAvailableResource())
	assert.Assert(t, resources.Equals(node.GetAllocatedResource(), res(1000, 1)),
		"node allocated not incremented, got %s", node.GetAllocatedResource())
}

func TestCompletedAllocationFullPath(t *testing.T) {
	root := createTree(t, rootConf(leafConf("a", 100, 100)))
	cluster := res(10000, 10)
	leaf := getLeaf(t, root, "a")
	node := NewNode("node-1", "rack-1", res(10000, 10))
	submitWithAsk(t, leaf, "app-1", res(1000, 1), 1)

	assigned := leaf.AssignContainers(cluster, node)
	assert.Assert(t, !assigned.IsEmpty(), "nothing assigned")
	allocs := node.GetAllAllocations()
	assert.Equal(t, len(allocs), 1)

	returned := leaf.CompletedAllocation(cluster, node, allocs[0].AllocationID)
	assert.Assert(t, returned != nil, "completion must return the allocation")
	assert.Assert(t, resources.IsZero(leaf.UsedResources()), "leaf usage not released")
	assert.Assert(t, resources.IsZero(root.UsedResources()), "root usage not released")
	assert.Assert(t, resources.Equals(node.GetAvailableResource(), node.GetTotalResource()),
		"node resource not restored")
	assert.Equal(t, leaf.GetApplication("app-1").allocationCount(), 0, "application still tracks the allocation")

	// a second completion for the same ID is a safe no-op
	assert.Assert(t, leaf.CompletedAllocation(cluster, node, allocs[0].AllocationID) == nil,
		"unknown allocation must not release anything")
	assert.Assert(t, resources.IsZero(leaf.UsedResources()), "double completion changed usage")
}

func TestRecoverAllocationFullPath(t *testing.T) {
	root := createTree(t, rootConf(leafConf("a", 100, 100)))
	cluster := res(10000, 10)
	leaf := getLeaf(t, root, "a")
	node := NewNode("node-1", "rack-1", res(10000, 10))

	alloc := NewAllocation("app-1", "root.a", "node-1", OffSwitch, res(2000, 2))
	// recovery needs the application registered first
	err := leaf.RecoverAllocation(cluster, node, alloc)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("recovery without the application must fail, got: %v", err)
	}

	assert.NilError(t, leaf.SubmitApplication("app-1", "a", testUser()), "submit failed")
	assert.NilError(t, leaf.RecoverAllocation(cluster, node, alloc), "recovery failed")
	assert.Assert(t, resources.Equals(leaf.UsedResources(), res(2000, 2)), "recovered usage missing")
	assert.Assert(t, resources.Equals(root.UsedResources(), res(2000, 2)), "recovered usage not propagated")
	assert.Equal(t, leaf.GetApplication("app-1").allocationCount(), 1, "application does not track the recovery")
	assert.Assert(t, node.GetAllocation(alloc.AllocationID) != nil, "node does not track the recovery")

	// the recovered container completes like any other
	leaf.CompletedAllocation(cluster, node, alloc.AllocationID)
	assert.Assert(t, resources.IsZero(root.UsedResources()), "usage not released after completion")
}

func TestLeafPendingResource(t *testing.T) {
	root := createTree(t, rootConf(leafConf("a", 100, 100)))
	leaf := getLeaf(t, root, "a")
	assert.Assert(t, resources.IsZero(leaf.GetPendingResource()), "new leaf must have no pending demand")

	submitWithAsk(t, leaf, "app-1", res(1000, 1), 3)
	assert.Assert(t, resources.Equals(leaf.GetPendingResource(), res(3000, 3)),
		"pending demand wrong, got %s", leaf.GetPendingResource())
}
