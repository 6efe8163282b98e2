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
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/capsched/capsched-core/pkg/log"
)

// QueueMetrics to declare queue metrics
type QueueMetrics struct {
	appMetrics       *prometheus.GaugeVec
	containerMetrics *prometheus.CounterVec
	capacityMetrics  *prometheus.GaugeVec
}

// InitQueueMetrics to initialize queue metrics
func InitQueueMetrics(name string) *QueueMetrics {
	q := &QueueMetrics{}

	subsystem := formatMetricName(name)

	q.appMetrics = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   Namespace,
			ConstLabels: prometheus.Labels{"queue": name},
			Name:        "queue_app",
			Help:        "Queue application metrics. State of the application includes `running`.",
		}, []string{"state"})

	q.containerMetrics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "queue_container",
			Help:      "Queue container metrics. State of the container includes `allocated`, `released`, `recovered`.",
		}, []string{"state"})

	q.capacityMetrics = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   Namespace,
			ConstLabels: prometheus.Labels{"queue": name},
			Name:        "queue_capacity",
			Help:        "Queue capacity metrics. Kind of the capacity includes `configured`, `absolute`, `maximum`, `absolute_maximum`, `used`, `absolute_used`.",
		}, []string{"kind"})

	var queueMetricsList = []prometheus.Collector{
		q.appMetrics,
		q.containerMetrics,
		q.capacityMetrics,
	}

	// Register the metrics
	for _, metric := range queueMetricsList {
		// registration might fail if the queue name does not map to a
		// legal metric name, log and continue: metrics must never block
		// the scheduling operation itself
		if err := prometheus.Register(metric); err != nil {
			log.Logger().Warn("failed to register metrics collector", zap.Error(err))
		}
	}

	return q
}

func (m *QueueMetrics) Reset() {
	m.appMetrics.Reset()
	m.capacityMetrics.Reset()
}

func (m *QueueMetrics) IncQueueApplicationsRunning() {
	m.appMetrics.With(prometheus.Labels{"state": "running"}).Inc()
}

func (m *QueueMetrics) DecQueueApplicationsRunning() {
	m.appMetrics.With(prometheus.Labels{"state": "running"}).Dec()
}

func (m *QueueMetrics) GetQueueApplicationsRunning() (int, error) {
	metricDto := &dto.Metric{}
	err := m.appMetrics.With(prometheus.Labels{"state": "running"}).Write(metricDto)
	if err == nil {
		return int(*metricDto.Gauge.Value), nil
	}
	return -1, err
}

func (m *QueueMetrics) IncAllocatedContainer() {
	m.containerMetrics.With(prometheus.Labels{"state": "allocated"}).Inc()
}

func (m *QueueMetrics) IncReleasedContainer() {
	m.containerMetrics.With(prometheus.Labels{"state": "released"}).Inc()
}

func (m *QueueMetrics) IncRecoveredContainer() {
	m.containerMetrics.With(prometheus.Labels{"state": "recovered"}).Inc()
}

func (m *QueueMetrics) setCapacity(kind string, value float64) {
	m.capacityMetrics.With(prometheus.Labels{"kind": kind}).Set(value)
}

func (m *QueueMetrics) SetConfiguredCapacity(value float64) {
	m.setCapacity("configured", value)
}

func (m *QueueMetrics) SetAbsoluteCapacity(value float64) {
	m.setCapacity("absolute", value)
}

func (m *QueueMetrics) SetMaximumCapacity(value float64) {
	m.setCapacity("maximum", value)
}

func (m *QueueMetrics) SetAbsoluteMaximumCapacity(value float64) {
	m.setCapacity("absolute_maximum", value)
}

func (m *QueueMetrics) SetUsedCapacity(value float64) {
	m.setCapacity("used", value)
}

func (m *QueueMetrics) SetAbsoluteUsedCapacity(value float64) {
	m.setCapacity("absolute_used", value)
}
