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

import "time"

type ClusterDAOInfo struct {
	State           string           `json:"state"`
	ClusterResource map[string]int64 `json:"clusterResource,omitempty"`
	ActiveNodes     int              `json:"activeNodes"`
	LeafQueues      int              `json:"leafQueues"`
}

// APIError is the uniform error body for non 200 responses.
type APIError struct {
	StatusCode  int       `json:"statusCode"`
	Message     string    `json:"message"`
	Description string    `json:"description"`
	Time        time.Time `json:"time"`
}

func NewAPIError(err error, statusCode int, message string) *APIError {
	description := message
	if err != nil {
		description = err.Error()
	}
	return &APIError{
		StatusCode:  statusCode,
		Message:     message,
		Description: description,
		Time:        time.Now(),
	}
}
