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
	"github.com/google/btree"

	"github.com/capsched/capsched-core/pkg/locking"
)

// childRef is one entry in the ordered child set. The sort key is the
// child's usedCapacity captured at insert time: a live key would corrupt the
// tree when the child's usage changes, the set therefore only re-sorts
// through the explicit remove and reinsert step.
type childRef struct {
	usedCapacity float64
	name         string
	queue        Queue
}

func lessChildRef(a, b *childRef) bool {
	if a.usedCapacity == b.usedCapacity {
		// stable secondary key so equal usage does not depend on
		// incidental container behaviour
		return a.name < b.name
	}
	return a.usedCapacity < b.usedCapacity
}

// childQueueSet is the comparator-ordered set of children of a parent queue,
// most starved (lowest usedCapacity) first. It has its own lock so callers
// never hold a queue lock while touching the set.
type childQueueSet struct {
	tree   *btree.BTreeG[*childRef]
	byName map[string]*childRef

	locking.RWMutex
}

func newChildQueueSet() *childQueueSet {
	return &childQueueSet{
		tree:   btree.NewG(8, lessChildRef),
		byName: make(map[string]*childRef),
	}
}

// setAll atomically replaces the content of the set.
func (cs *childQueueSet) setAll(children []Queue) {
	cs.Lock()
	defer cs.Unlock()
	cs.tree.Clear(false)
	cs.byName = make(map[string]*childRef, len(children))
	for _, child := range children {
		cs.insert(child)
	}
}

// insert adds the queue with a freshly captured sort key.
// unlocked call, the caller must hold the set lock.
func (cs *childQueueSet) insert(child Queue) {
	ref := &childRef{
		usedCapacity: child.UsedCapacity(),
		name:         child.Name(),
		queue:        child,
	}
	cs.tree.ReplaceOrInsert(ref)
	cs.byName[ref.name] = ref
}

func (cs *childQueueSet) add(child Queue) {
	cs.Lock()
	defer cs.Unlock()
	cs.insert(child)
}

func (cs *childQueueSet) remove(name string) {
	cs.Lock()
	defer cs.Unlock()
	if ref, ok := cs.byName[name]; ok {
		cs.tree.Delete(ref)
		delete(cs.byName, name)
	}
}

func (cs *childQueueSet) get(name string) Queue {
	cs.RLock()
	defer cs.RUnlock()
	if ref, ok := cs.byName[name]; ok {
		return ref.queue
	}
	return nil
}

// reinsert re-sorts the named child: remove under the old key, capture the
// new usedCapacity, insert again. This is the explicit re-sort point after
// every successful allocation or release.
func (cs *childQueueSet) reinsert(name string) {
	cs.Lock()
	defer cs.Unlock()
	ref, ok := cs.byName[name]
	if !ok {
		return
	}
	cs.tree.Delete(ref)
	cs.insert(ref.queue)
}

// sorted returns the children most starved first.
func (cs *childQueueSet) sorted() []Queue {
	cs.RLock()
	defer cs.RUnlock()
	children := make([]Queue, 0, cs.tree.Len())
	cs.tree.Ascend(func(ref *childRef) bool {
		children = append(children, ref.queue)
		return true
	})
	return children
}

// all returns a copy of the name to queue mapping.
func (cs *childQueueSet) all() map[string]Queue {
	cs.RLock()
	defer cs.RUnlock()
	children := make(map[string]Queue, len(cs.byName))
	for name, ref := range cs.byName {
		children[name] = ref.queue
	}
	return children
}

func (cs *childQueueSet) len() int {
	cs.RLock()
	defer cs.RUnlock()
	return len(cs.byName)
}
