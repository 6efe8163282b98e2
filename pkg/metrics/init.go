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

package metrics

import (
	"regexp"
	"strings"
	"sync"

	"github.com/capsched/capsched-core/pkg/locking"
)

const (
	// Namespace for all scheduler metrics
	Namespace = "capsched"
)

var once sync.Once
var m *Metrics

// Metrics is the registry of all queue and scheduler metric sinks.
// Queue metrics are created lazily and keyed by queue path so a queue keeps
// its sink across reinitialize cycles.
type Metrics struct {
	scheduler *SchedulerMetrics
	queues    map[string]*QueueMetrics
	lock      locking.RWMutex
}

func init() {
	once.Do(func() {
		m = &Metrics{
			scheduler: initSchedulerMetrics(),
			queues:    make(map[string]*QueueMetrics),
		}
	})
}

func GetSchedulerMetrics() *SchedulerMetrics {
	return m.scheduler
}

// GetQueueMetrics returns the metrics sink for the queue path, creating and
// registering it on first use.
func GetQueueMetrics(name string) *QueueMetrics {
	m.lock.Lock()
	defer m.lock.Unlock()
	if qm, ok := m.queues[name]; ok {
		return qm
	}
	qm := InitQueueMetrics(name)
	m.queues[name] = qm
	return qm
}

var invalidMetricChars = regexp.MustCompile("[^a-zA-Z0-9_:]")

// Metric names must comply with the regex [a-zA-Z_:][a-zA-Z0-9_:]*,
// a queue path contains dots which must be replaced. A digit is legal in a
// metric name except as the first character, prefix those names.
func formatMetricName(metricName string) string {
	newName := strings.ReplaceAll(metricName, ".", "_")
	newName = invalidMetricChars.ReplaceAllString(newName, "_")
	if len(newName) > 0 && newName[0] >= '0' && newName[0] <= '9' {
		newName = "q_" + newName
	}
	return newName
}
