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

package webservice

import (
	"encoding/json"
	"net/http"

	"github.com/capsched/capsched-core/pkg/common/resources"
	"github.com/capsched/capsched-core/pkg/scheduler"
	"github.com/capsched/capsched-core/pkg/scheduler/objects"
	"github.com/capsched/capsched-core/pkg/webservice/dao"
)

func getContext() *scheduler.CapacityScheduler {
	lock.RLock()
	defer lock.RUnlock()
	return schedulerContext
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(dao.NewAPIError(nil, statusCode, message)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func resourceToMap(res *resources.Resource) map[string]int64 {
	if res == nil {
		return nil
	}
	out := make(map[string]int64, len(res.Resources))
	for name, value := range res.Resources {
		out[name] = int64(value)
	}
	return out
}

func getQueuesInfo(w http.ResponseWriter, _ *http.Request) {
	cs := getContext()
	if cs == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}
	writeJSON(w, queueDAO(cs.GetRootQueue()))
}

func queueDAO(queue objects.Queue) dao.QueueDAOInfo {
	info := dao.QueueDAOInfo{
		QueueName:               queue.Name(),
		QueuePath:               queue.QueuePath(),
		Status:                  queue.CurrentState(),
		Capacity:                queue.Capacity(),
		MaximumCapacity:         queue.MaximumCapacity(),
		AbsoluteCapacity:        queue.AbsoluteCapacity(),
		AbsoluteMaximumCapacity: queue.AbsoluteMaximumCapacity(),
		UsedCapacity:            queue.UsedCapacity(),
		AbsoluteUsedCapacity:    queue.AbsoluteUsedCapacity(),
		UsedResource:            resourceToMap(queue.UsedResources()),
		NumApplications:         queue.NumApplications(),
		NumContainers:           queue.NumContainers(),
		IsLeaf:                  queue.IsLeafQueue(),
	}
	if parent, ok := queue.(*objects.ParentQueue); ok {
		for _, child := range parent.GetCopyOfChildren() {
			info.Children = append(info.Children, queueDAO(child))
		}
	}
	return info
}

func getClusterInfo(w http.ResponseWriter, _ *http.Request) {
	cs := getContext()
	if cs == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}
	state := "Stopped"
	if cs.IsRunning() {
		state = "Running"
	}
	writeJSON(w, dao.ClusterDAOInfo{
		State:           state,
		ClusterResource: resourceToMap(cs.ClusterResource()),
		ActiveNodes:     len(cs.GetNodes()),
		LeafQueues:      leafCount(cs.GetRootQueue()),
	})
}

func leafCount(pq *objects.ParentQueue) int {
	count := 0
	for _, child := range pq.GetCopyOfChildren() {
		if parent, ok := child.(*objects.ParentQueue); ok {
			count += leafCount(parent)
		} else {
			count++
		}
	}
	return count
}

func getNodesInfo(w http.ResponseWriter, _ *http.Request) {
	cs := getContext()
	if cs == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}
	nodes := cs.GetNodes()
	infos := make([]dao.NodeDAOInfo, 0, len(nodes))
	for _, node := range nodes {
		infos = append(infos, nodeDAO(node))
	}
	writeJSON(w, infos)
}

func nodeDAO(node *objects.Node) dao.NodeDAOInfo {
	allocs := node.GetAllAllocations()
	allocInfos := make([]dao.AllocationDAOInfo, 0, len(allocs))
	for _, alloc := range allocs {
		allocInfos = append(allocInfos, dao.AllocationDAOInfo{
			AllocationID:  alloc.AllocationID,
			ApplicationID: alloc.ApplicationID,
			QueuePath:     alloc.QueuePath,
			NodeID:        alloc.NodeID,
			Resource:      resourceToMap(alloc.AllocatedResource),
			Locality:      alloc.Locality.String(),
		})
	}
	return dao.NodeDAOInfo{
		NodeID:      node.NodeID,
		Rack:        node.Rack,
		Total:       resourceToMap(node.GetTotalResource()),
		Available:   resourceToMap(node.GetAvailableResource()),
		Allocated:   resourceToMap(node.GetAllocatedResource()),
		Reserved:    node.IsReserved(),
		Allocations: allocInfos,
	}
}
