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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/capsched/capsched-core/pkg/log"
)

// SchedulerMetrics for the scheduler wide events: assignment attempts per
// result, node counts and the latency of a node scheduling cycle.
type SchedulerMetrics struct {
	assignments       *prometheus.CounterVec
	activeNodes       prometheus.Gauge
	schedulingLatency prometheus.Histogram
}

func initSchedulerMetrics() *SchedulerMetrics {
	s := &SchedulerMetrics{}

	s.assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "assignment_total",
			Help:      "Number of node assignment attempts, by the result. 'assigned' means the node received at least one container, 'skipped' means nothing could be placed.",
		}, []string{"result"})

	s.activeNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "active_nodes",
			Help:      "Number of nodes currently registered with the scheduler.",
		})

	s.schedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "scheduling_duration_seconds",
			Help:      "Latency of a single node scheduling cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 10, 6),
		})

	for _, metric := range []prometheus.Collector{s.assignments, s.activeNodes, s.schedulingLatency} {
		if err := prometheus.Register(metric); err != nil {
			log.Logger().Warn("failed to register metrics collector", zap.Error(err))
		}
	}
	return s
}

func (s *SchedulerMetrics) IncAssigned() {
	s.assignments.With(prometheus.Labels{"result": "assigned"}).Inc()
}

func (s *SchedulerMetrics) IncSkipped() {
	s.assignments.With(prometheus.Labels{"result": "skipped"}).Inc()
}

func (s *SchedulerMetrics) SetActiveNodes(count int) {
	s.activeNodes.Set(float64(count))
}

func (s *SchedulerMetrics) ObserveSchedulingLatency(start time.Time) {
	s.schedulingLatency.Observe(time.Since(start).Seconds())
}
