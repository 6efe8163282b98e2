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

package dao

type AllocationDAOInfo struct {
	AllocationID  string           `json:"allocationID"`
	ApplicationID string           `json:"applicationID"`
	QueuePath     string           `json:"queuePath"`
	NodeID        string           `json:"nodeID"`
	Resource      map[string]int64 `json:"resource,omitempty"`
	Locality      string           `json:"locality,omitempty"`
}

type NodeDAOInfo struct {
	NodeID      string              `json:"nodeID"`
	Rack        string              `json:"rack,omitempty"`
	Total       map[string]int64    `json:"total,omitempty"`
	Available   map[string]int64    `json:"available,omitempty"`
	Allocated   map[string]int64    `json:"allocated,omitempty"`
	Reserved    bool                `json:"reserved"`
	Allocations []AllocationDAOInfo `json:"allocations,omitempty"`
}
