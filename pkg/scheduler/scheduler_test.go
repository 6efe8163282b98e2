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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go"
	"gotest.tools/v3/assert"

	"github.com/capsched/capsched-core/pkg/common/configs"
	"github.com/capsched/capsched-core/pkg/common/resources"
	"github.com/capsched/capsched-core/pkg/common/security"
	"github.com/capsched/capsched-core/pkg/scheduler/objects"
)

const testConfig = `
queues:
  - name: root
    parent: true
    submitacl: "*"
    capacity: 100
    queues:
      - name: batch
        capacity: 60
        maximumcapacity: 80
      - name: interactive
        capacity: 40
`

func testScheduler(t *testing.T, yamlConf string) *CapacityScheduler {
	conf, err := configs.LoadSchedulerConfigFromByteArray([]byte(yamlConf))
	assert.NilError(t, err, "config load failed")
	minAlloc := resources.NewResourceFromMap(map[string]resources.Quantity{
		resources.MEMORY: 100,
		resources.VCORE:  1,
	})
	cs, err := NewCapacityScheduler(conf, minAlloc, opentracing.NoopTracer{})
	assert.NilError(t, err, "scheduler create failed")
	return cs
}

func testRes(memory, vcores resources.Quantity) *resources.Resource {
	return resources.NewResourceFromMap(map[string]resources.Quantity{
		resources.MEMORY: memory,
		resources.VCORE:  vcores,
	})
}

func testUser() security.UserGroup {
	return security.UserGroup{User: "testuser", Groups: []string{"testgroup"}}
}

func TestSchedulerCreate(t *testing.T) {
	cs := testScheduler(t, testConfig)
	assert.Assert(t, cs.GetRootQueue() != nil, "no root queue")
	assert.Assert(t, cs.GetLeafQueue("batch") != nil, "batch leaf missing")
	assert.Assert(t, cs.GetLeafQueue("interactive") != nil, "interactive leaf missing")
	assert.Assert(t, cs.GetLeafQueue("unknown") == nil, "unknown leaf resolved")
	assert.Assert(t, resources.IsZero(cs.ClusterResource()), "new scheduler must have no resources")
}

func TestGetQueueByPath(t *testing.T) {
	cs := testScheduler(t, testConfig)
	assert.Assert(t, cs.GetQueue("root") != nil, "root not resolved")
	batch := cs.GetQueue("root.batch")
	assert.Assert(t, batch != nil, "root.batch not resolved")
	assert.Assert(t, batch.IsLeafQueue(), "root.batch must be a leaf")
	assert.Assert(t, cs.GetQueue("root.missing") == nil, "missing path resolved")
	assert.Assert(t, cs.GetQueue("other.batch") == nil, "wrong root resolved")
}

func TestNodeLifecycle(t *testing.T) {
	cs := testScheduler(t, testConfig)
	node := objects.NewNode("node-1", "rack-1", testRes(10000, 10))
	assert.NilError(t, cs.AddNode(node), "add node failed")
	assert.Assert(t, resources.Equals(cs.ClusterResource(), testRes(10000, 10)), "cluster resource wrong")

	err := cs.AddNode(node)
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("duplicate node must be rejected, got: %v", err)
	}

	assert.NilError(t, cs.RemoveNode("node-1"), "remove node failed")
	assert.Assert(t, resources.IsZero(cs.ClusterResource()), "cluster resource not returned")
	err = cs.RemoveNode("node-1")
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("removing an unknown node must fail, got: %v", err)
	}
}

func TestScheduleEndToEnd(t *testing.T) {
	cs := testScheduler(t, testConfig)
	node := objects.NewNode("node-1", "rack-1", testRes(10000, 10))
	assert.NilError(t, cs.AddNode(node), "add node failed")

	assert.NilError(t, cs.SubmitApplication("app-1", "batch", testUser()), "submit failed")
	ask := objects.NewAllocationAsk("ask-1", "app-1", testRes(1000, 1), 3)
	ask.PreferredNodes = []string{"node-1"}
	assert.NilError(t, cs.AddAllocationAsk("app-1", "batch", ask), "ask failed")

	assigned, err := cs.Schedule("node-1")
	assert.NilError(t, err, "schedule failed")
	// three node local asks placed in one cycle
	assert.Assert(t, resources.Equals(assigned, testRes(3000, 3)),
		"expected all asks placed, got %s", assigned)

	batch := cs.GetLeafQueue("batch")
	assert.Equal(t, batch.NumContainers(), 3)
	assert.Assert(t, resources.Equals(batch.UsedResources(), testRes(3000, 3)), "leaf usage wrong")

	// an empty cycle reports nothing assigned
	assigned, err = cs.Schedule("node-1")
	assert.NilError(t, err, "empty schedule failed")
	assert.Assert(t, resources.IsZero(assigned), "empty cycle assigned resources")

	_, err = cs.Schedule("node-x")
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("scheduling an unknown node must fail, got: %v", err)
	}
}

func TestCompletedContainerEndToEnd(t *testing.T) {
	cs := testScheduler(t, testConfig)
	node := objects.NewNode("node-1", "rack-1", testRes(10000, 10))
	assert.NilError(t, cs.AddNode(node), "add node failed")
	assert.NilError(t, cs.SubmitApplication("app-1", "batch", testUser()), "submit failed")
	assert.NilError(t, cs.AddAllocationAsk("app-1", "batch",
		objects.NewAllocationAsk("ask-1", "app-1", testRes(1000, 1), 1)), "ask failed")

	_, err := cs.Schedule("node-1")
	assert.NilError(t, err, "schedule failed")
	allocs := node.GetAllAllocations()
	assert.Equal(t, len(allocs), 1)

	assert.NilError(t, cs.CompletedContainer("node-1", allocs[0].AllocationID), "completion failed")
	assert.Assert(t, resources.IsZero(cs.GetRootQueue().UsedResources()), "usage not released")

	err = cs.CompletedContainer("node-1", allocs[0].AllocationID)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("double completion must fail, got: %v", err)
	}
}

func TestRecoverAllocationEndToEnd(t *testing.T) {
	cs := testScheduler(t, testConfig)
	node := objects.NewNode("node-1", "rack-1", testRes(10000, 10))
	assert.NilError(t, cs.AddNode(node), "add node failed")
	assert.NilError(t, cs.SubmitApplication("app-1", "batch", testUser()), "submit failed")

	alloc := objects.NewAllocation("app-1", "root.batch", "node-1", objects.OffSwitch, testRes(2000, 2))
	assert.NilError(t, cs.RecoverAllocation("node-1", alloc), "recovery failed")
	assert.Assert(t, resources.Equals(cs.GetRootQueue().UsedResources(), testRes(2000, 2)),
		"recovered usage not accounted")
	assert.Assert(t, node.GetAllocation(alloc.AllocationID) != nil, "node does not track the recovery")
}

func TestNodeRemovalReleasesAllocations(t *testing.T) {
	cs := testScheduler(t, testConfig)
	node := objects.NewNode("node-1", "rack-1", testRes(10000, 10))
	assert.NilError(t, cs.AddNode(node), "add node failed")
	assert.NilError(t, cs.SubmitApplication("app-1", "batch", testUser()), "submit failed")
	assert.NilError(t, cs.AddAllocationAsk("app-1", "batch",
		objects.NewAllocationAsk("ask-1", "app-1", testRes(1000, 1), 2)), "ask failed")
	_, err := cs.Schedule("node-1")
	assert.NilError(t, err, "schedule failed")
	_, err = cs.Schedule("node-1")
	assert.NilError(t, err, "schedule failed")
	assert.Equal(t, cs.GetLeafQueue("batch").NumContainers(), 2)

	assert.NilError(t, cs.RemoveNode("node-1"), "remove node failed")
	assert.Assert(t, resources.IsZero(cs.GetRootQueue().UsedResources()),
		"queue usage must be released when the node goes away")
	assert.Equal(t, cs.GetLeafQueue("batch").NumContainers(), 0)
}

func TestReinitializeEndToEnd(t *testing.T) {
	cs := testScheduler(t, testConfig)
	node := objects.NewNode("node-1", "rack-1", testRes(10000, 10))
	assert.NilError(t, cs.AddNode(node), "add node failed")
	assert.NilError(t, cs.SubmitApplication("app-1", "batch", testUser()), "submit failed")

	newConf, err := configs.LoadSchedulerConfigFromByteArray([]byte(`
queues:
  - name: root
    parent: true
    submitacl: "*"
    capacity: 100
    queues:
      - name: batch
        capacity: 50
      - name: interactive
        capacity: 30
      - name: adhoc
        capacity: 20
`))
	assert.NilError(t, err, "new config load failed")
	assert.NilError(t, cs.Reinitialize(newConf), "reinitialize failed")

	batch := cs.GetLeafQueue("batch")
	assert.Equal(t, batch.Capacity(), 0.5, "new capacity not applied")
	assert.Equal(t, batch.NumApplications(), 1, "application lost")
	assert.Assert(t, cs.GetLeafQueue("adhoc") != nil, "new leaf not routed")
	assert.NilError(t, cs.SubmitApplication("app-2", "adhoc", testUser()), "submit to new leaf failed")
}

func TestReinitializeRejectsRemovalOfNonEmptyQueue(t *testing.T) {
	cs := testScheduler(t, testConfig)
	assert.NilError(t, cs.SubmitApplication("app-1", "interactive", testUser()), "submit failed")

	newConf, err := configs.LoadSchedulerConfigFromByteArray([]byte(`
queues:
  - name: root
    parent: true
    submitacl: "*"
    capacity: 100
    queues:
      - name: batch
        capacity: 100
`))
	assert.NilError(t, err, "new config load failed")
	err = cs.Reinitialize(newConf)
	if err == nil || !strings.Contains(err.Error(), "not empty") {
		t.Fatalf("removal of a non empty queue must be rejected, got: %v", err)
	}
	// the old tree keeps serving
	assert.Assert(t, cs.GetLeafQueue("interactive") != nil, "old queue lost after failed reinitialize")
	assert.Equal(t, cs.GetLeafQueue("interactive").NumApplications(), 1)
}

// gateTracer parks the first Schedule call between taking the scheduler
// lock and walking the tree, so the test can observe what is allowed to run
// while a cycle is in flight.
type gateTracer struct {
	opentracing.NoopTracer
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (gt *gateTracer) StartSpan(operationName string, opts ...opentracing.StartSpanOption) opentracing.Span {
	gt.once.Do(func() {
		close(gt.entered)
		<-gt.release
	})
	return gt.NoopTracer.StartSpan(operationName, opts...)
}

func TestReinitializeWaitsForScheduleCycle(t *testing.T) {
	conf, err := configs.LoadSchedulerConfigFromByteArray([]byte(testConfig))
	assert.NilError(t, err, "config load failed")
	tracer := &gateTracer{entered: make(chan struct{}), release: make(chan struct{})}
	cs, err := NewCapacityScheduler(conf, testRes(100, 1), tracer)
	assert.NilError(t, err, "scheduler create failed")
	node := objects.NewNode("node-1", "rack-1", testRes(4000, 4))
	assert.NilError(t, cs.AddNode(node), "add node failed")
	assert.NilError(t, cs.SubmitApplication("app-1", "batch", testUser()), "submit failed")
	assert.NilError(t, cs.AddAllocationAsk("app-1", "batch",
		objects.NewAllocationAsk("ask-1", "app-1", testRes(1000, 1), 1)), "ask failed")

	var scheduleErr error
	scheduleDone := make(chan struct{})
	go func() {
		defer close(scheduleDone)
		_, scheduleErr = cs.Schedule("node-1")
	}()
	<-tracer.entered

	newConf, err := configs.LoadSchedulerConfigFromByteArray([]byte(testConfig))
	assert.NilError(t, err, "new config load failed")
	var reinitErr error
	reinitDone := make(chan struct{})
	go func() {
		defer close(reinitDone)
		reinitErr = cs.Reinitialize(newConf)
	}()

	// the cycle still holds the scheduler lock, reconfiguration must wait
	select {
	case <-reinitDone:
		t.Fatal("reconfiguration completed while a scheduling cycle was still walking the tree")
	case <-time.After(100 * time.Millisecond):
	}

	close(tracer.release)
	<-scheduleDone
	assert.NilError(t, scheduleErr, "schedule failed")
	select {
	case <-reinitDone:
	case <-time.After(time.Second):
		t.Fatal("reconfiguration did not run after the scheduling cycle finished")
	}
	assert.NilError(t, reinitErr, "reinitialize failed")
}
