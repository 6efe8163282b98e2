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
)

func TestChildSetOrdering(t *testing.T) {
	root := createTree(t, rootConf(
		leafConf("a", 30, 100),
		leafConf("b", 30, 100),
		leafConf("c", 40, 100),
	))
	// no usage: ordering falls back to the queue name
	names := sortedNames(root)
	assert.DeepEqual(t, names, []string{"a", "b", "c"})

	cluster := res(10000, 10)
	// give "a" usage, it must move to the back
	leafA := getLeaf(t, root, "a")
	leafA.RecoverContainer(cluster, res(2000, 2))
	assert.DeepEqual(t, sortedNames(root), []string{"b", "c", "a"})

	// "b" overtakes "a" with more usage
	leafB := getLeaf(t, root, "b")
	leafB.RecoverContainer(cluster, res(4000, 4))
	assert.DeepEqual(t, sortedNames(root), []string{"c", "a", "b"})
}

func TestChildSetReinsertOnRelease(t *testing.T) {
	root := createTree(t, rootConf(
		leafConf("a", 50, 100),
		leafConf("b", 50, 100),
	))
	cluster := res(10000, 10)
	leafA := getLeaf(t, root, "a")
	leafA.RecoverContainer(cluster, res(2000, 2))
	assert.DeepEqual(t, sortedNames(root), []string{"b", "a"})

	// releasing the usage restores the name order
	leafA.CompletedContainer(cluster, res(2000, 2))
	assert.DeepEqual(t, sortedNames(root), []string{"a", "b"})
}

func TestChildSetAddRemove(t *testing.T) {
	root := createTree(t, rootConf(
		leafConf("a", 50, 100),
		leafConf("b", 50, 100),
	))
	set := root.children
	assert.Equal(t, set.len(), 2)
	assert.Assert(t, set.get("a") != nil, "child a missing")
	assert.Assert(t, set.get("missing") == nil, "unknown child returned")

	set.remove("a")
	assert.Equal(t, set.len(), 1)
	assert.Assert(t, set.get("a") == nil, "removed child still present")
	// removing twice is a no-op
	set.remove("a")
	assert.Equal(t, set.len(), 1)

	// reinsert of an unknown name is a no-op too
	set.reinsert("missing")
	assert.Equal(t, set.len(), 1)
}

func sortedNames(pq *ParentQueue) []string {
	children := pq.children.sorted()
	names := make([]string, 0, len(children))
	for _, child := range children {
		names = append(names, child.Name())
	}
	return names
}
