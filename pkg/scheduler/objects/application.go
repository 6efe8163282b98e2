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
	"github.com/capsched/capsched-core/pkg/common/security"
	"github.com/capsched/capsched-core/pkg/locking"
)

// Application tracks the outstanding asks and live allocations of one
// submitted application inside a leaf queue. The leaf schedules applications
// first-in-first-out by submission time.
type Application struct {
	ApplicationID string

	user           security.UserGroup
	queuePath      string
	submissionTime time.Time
	asks           []*AllocationAsk
	allocations    map[string]*Allocation
	pending        *resources.Resource

	locking.RWMutex
}

func NewApplication(appID string, user security.UserGroup, queuePath string) *Application {
	return &Application{
		ApplicationID:  appID,
		user:           user,
		queuePath:      queuePath,
		submissionTime: time.Now(),
		allocations:    make(map[string]*Allocation),
		pending:        resources.NewResource(),
	}
}

func (app *Application) GetUser() security.UserGroup {
	app.RLock()
	defer app.RUnlock()
	return app.user
}

func (app *Application) GetQueuePath() string {
	app.RLock()
	defer app.RUnlock()
	return app.queuePath
}

// Return the pending resources for this application
func (app *Application) GetPendingResource() *resources.Resource {
	app.RLock()
	defer app.RUnlock()
	return app.pending.Clone()
}

// AddAllocationAsk adds an outstanding request, asks keep arrival order.
func (app *Application) AddAllocationAsk(ask *AllocationAsk) {
	if ask == nil || ask.PendingAsks <= 0 {
		return
	}
	app.Lock()
	defer app.Unlock()
	app.asks = append(app.asks, ask)
	app.pending.AddTo(ask.pendingResource())
}

// tryAllocate matches the node against the outstanding asks and returns the
// resulting allocation, or nil if nothing fits. The most local candidate
// wins, ties are broken by arrival order. Any ask larger than the headroom
// left under the queue maximum capacity is skipped.
func (app *Application) tryAllocate(node *Node, headroom *resources.Resource) *Allocation {
	app.Lock()
	defer app.Unlock()

	available := node.GetAvailableResource()
	var best *AllocationAsk
	bestLocality := LocalityNone
	for _, ask := range app.asks {
		if ask.PendingAsks <= 0 {
			continue
		}
		if !resources.FitIn(available, ask.PerAllocation) {
			continue
		}
		// a nil headroom means the queue maximum does not limit this node
		if headroom != nil && !resources.FitIn(headroom, ask.PerAllocation) {
			continue
		}
		if locality := ask.localityFor(node); locality < bestLocality {
			best = ask
			bestLocality = locality
			if bestLocality == NodeLocal {
				break
			}
		}
	}
	if best == nil {
		return nil
	}

	alloc := NewAllocation(app.ApplicationID, app.queuePath, node.NodeID, bestLocality, best.PerAllocation)
	best.PendingAsks--
	app.pending.SubFrom(best.PerAllocation)
	app.allocations[alloc.AllocationID] = alloc
	return alloc
}

// recoverAllocation adds an allocation reported by a re-registering node
// without consuming an ask.
func (app *Application) recoverAllocation(alloc *Allocation) {
	app.Lock()
	defer app.Unlock()
	app.allocations[alloc.AllocationID] = alloc
}

// removeAllocation removes the tracked allocation, nil if not found.
func (app *Application) removeAllocation(allocationID string) *Allocation {
	app.Lock()
	defer app.Unlock()
	alloc := app.allocations[allocationID]
	delete(app.allocations, allocationID)
	return alloc
}

func (app *Application) allocationCount() int {
	app.RLock()
	defer app.RUnlock()
	return len(app.allocations)
}
