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

type QueueDAOInfo struct {
	QueueName               string           `json:"queuename"` // no omitempty, queue name should not be empty
	QueuePath               string           `json:"queuePath"`
	Status                  string           `json:"status,omitempty"`
	Capacity                float64          `json:"capacity"`
	MaximumCapacity         float64          `json:"maximumCapacity"`
	AbsoluteCapacity        float64          `json:"absoluteCapacity"`
	AbsoluteMaximumCapacity float64          `json:"absoluteMaximumCapacity"`
	UsedCapacity            float64          `json:"usedCapacity"`
	AbsoluteUsedCapacity    float64          `json:"absoluteUsedCapacity"`
	UsedResource            map[string]int64 `json:"usedResource,omitempty"`
	NumApplications         int              `json:"numApplications"`
	NumContainers           int              `json:"numContainers"`
	IsLeaf                  bool             `json:"isLeaf"` // no omitempty, a false value gives a quick way to understand whether it's leaf.
	Children                []QueueDAOInfo   `json:"children,omitempty"`
}
