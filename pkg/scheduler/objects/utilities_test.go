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

	"github.com/capsched/capsched-core/pkg/common/configs"
	"github.com/capsched/capsched-core/pkg/common/resources"
	"github.com/capsched/capsched-core/pkg/common/security"
)

func testContext() *QueueContext {
	return &QueueContext{
		MinAllocation: res(100, 1),
	}
}

func res(memory, vcores resources.Quantity) *resources.Resource {
	return resources.NewResourceFromMap(map[string]resources.Quantity{
		resources.MEMORY: memory,
		resources.VCORE:  vcores,
	})
}

func leafConf(name string, capacity, maxCapacity float64) configs.QueueConfig {
	return configs.QueueConfig{
		Name:            name,
		Capacity:        capacity,
		MaximumCapacity: maxCapacity,
	}
}

func parentConf(name string, capacity, maxCapacity float64, children ...configs.QueueConfig) configs.QueueConfig {
	return configs.QueueConfig{
		Name:            name,
		Parent:          true,
		Capacity:        capacity,
		MaximumCapacity: maxCapacity,
		Queues:          children,
	}
}

func rootConf(children ...configs.QueueConfig) configs.QueueConfig {
	return configs.QueueConfig{
		Name:      configs.RootQueue,
		Parent:    true,
		Capacity:  configs.RootCapacityPercentage,
		SubmitACL: "*",
		Queues:    children,
	}
}

// createTree builds a queue tree from the config and returns the root.
func createTree(t *testing.T, conf configs.QueueConfig) *ParentQueue {
	queue, err := NewQueue(conf, nil, testContext())
	assert.NilError(t, err, "queue tree create failed")
	root, ok := queue.(*ParentQueue)
	assert.Assert(t, ok, "root queue must be a parent queue")
	return root
}

func testUser() security.UserGroup {
	return security.UserGroup{
		User:   "testuser",
		Groups: []string{"testgroup"},
	}
}

// getLeaf resolves a direct or nested leaf from the root, failing the test
// when the path does not lead to a leaf.
func getLeaf(t *testing.T, root *ParentQueue, names ...string) *LeafQueue {
	var current Queue = root
	for _, name := range names {
		parent, ok := current.(*ParentQueue)
		assert.Assert(t, ok, "queue %s is not a parent", current.QueuePath())
		current = parent.GetChildQueue(name)
		assert.Assert(t, current != nil, "child %s not found", name)
	}
	leaf, ok := current.(*LeafQueue)
	assert.Assert(t, ok, "queue %s is not a leaf", current.QueuePath())
	return leaf
}

// submitWithAsk registers an application with a single repeating ask.
func submitWithAsk(t *testing.T, leaf *LeafQueue, appID string, perAlloc *resources.Resource, repeat int) {
	err := leaf.SubmitApplication(appID, leaf.Name(), testUser())
	assert.NilError(t, err, "submit of %s failed", appID)
	app := leaf.GetApplication(appID)
	assert.Assert(t, app != nil, "application %s not registered", appID)
	app.AddAllocationAsk(NewAllocationAsk("ask-1", appID, perAlloc, repeat))
}
