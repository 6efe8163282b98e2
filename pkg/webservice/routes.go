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
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

var webRoutes = []route{
	{
		"Queues",
		"GET",
		"/ws/v1/queues",
		getQueuesInfo,
	},
	{
		"Cluster",
		"GET",
		"/ws/v1/cluster",
		getClusterInfo,
	},
	{
		"Nodes",
		"GET",
		"/ws/v1/nodes",
		getNodesInfo,
	},
	{
		"Metrics",
		"GET",
		"/ws/v1/metrics",
		promhttp.Handler().ServeHTTP,
	},
}
