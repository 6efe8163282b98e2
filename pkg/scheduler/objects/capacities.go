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
	"fmt"
	"math"

	"github.com/capsched/capsched-core/pkg/common/configs"
	"github.com/capsched/capsched-core/pkg/common/resources"
)

// Tolerance on the sum of sibling capacities.
const capacityEpsilon = 0.0005

// queueCapacities holds the configured and derived capacity fractions of a
// queue. Shared by both queue variants, all access must be guarded by the
// owning queue's lock. Keeping the math here avoids a common base type, the
// variants embed the struct and call the free functions below.
type queueCapacities struct {
	capacity                float64
	absoluteCapacity        float64
	maximumCapacity         float64
	absoluteMaximumCapacity float64
	usedCapacity            float64
	absoluteUsedCapacity    float64
}

// newQueueCapacities computes the capacity fractions from the raw config
// percentages and the parent's absolute values. The root has no parent, its
// raw capacity must be exactly 100% and its absolute values are 1.0.
func newQueueCapacities(conf configs.QueueConfig, parentAbs, parentAbsMax float64, isRoot bool) (queueCapacities, error) {
	qc := queueCapacities{}
	if isRoot {
		if conf.Capacity != configs.RootCapacityPercentage {
			return qc, fmt.Errorf("illegal capacity of %.3f for the root queue, the root is fixed at 100", conf.Capacity)
		}
		parentAbs = 1.0
		parentAbsMax = 1.0
	}
	qc.capacity = conf.Capacity / 100
	rawMax := conf.MaximumCapacity
	if rawMax == 0 {
		rawMax = configs.DefaultMaximumCapacity
	}
	qc.maximumCapacity = rawMax / 100
	if err := qc.deriveAbsolute(parentAbs, parentAbsMax); err != nil {
		return qc, err
	}
	return qc, nil
}

// deriveAbsolute recomputes the absolute fractions from the configured ones
// and the parent values, then validates the results. Called at construction
// and again top-down when an ancestor changes during reinitialize.
func (qc *queueCapacities) deriveAbsolute(parentAbs, parentAbsMax float64) error {
	if qc.capacity > qc.maximumCapacity+capacityEpsilon {
		return fmt.Errorf("illegal capacity of %.4f, above maximum capacity %.4f",
			qc.capacity, qc.maximumCapacity)
	}
	qc.absoluteCapacity = qc.capacity * parentAbs
	// a child can never have a higher effective maximum than its parent
	qc.absoluteMaximumCapacity = math.Min(qc.maximumCapacity*parentAbsMax, parentAbsMax)
	if qc.absoluteCapacity > qc.absoluteMaximumCapacity+capacityEpsilon {
		return fmt.Errorf("illegal absolute capacities: absolute capacity %.4f above absolute maximum capacity %.4f",
			qc.absoluteCapacity, qc.absoluteMaximumCapacity)
	}
	return nil
}

// updateUsed recomputes the derived usage fractions after an allocate,
// release or cluster resize. A zero cluster or zero absolute capacity gives
// zero usage, never a division error.
func (qc *queueCapacities) updateUsed(used, clusterResource *resources.Resource) {
	qc.absoluteUsedCapacity = resources.FractionOfCluster(used, clusterResource)
	clusterMem := clusterResource.Memory()
	if qc.absoluteCapacity > 0 && clusterMem > 0 {
		qc.usedCapacity = float64(used.Memory()) / (float64(clusterMem) * qc.absoluteCapacity)
	} else {
		qc.usedCapacity = 0
	}
}

// checkChildCapacitySum validates that the configured capacities of the
// children sum to the full parent share, within tolerance. A parent with
// zero capacity represents an administratively disabled subtree: all its
// children must then be zero as well. An empty child set is always valid, a
// parent can be configured before its children exist.
func checkChildCapacitySum(parentCapacity float64, children []Queue) error {
	if len(children) == 0 {
		return nil
	}
	var sum float64
	for _, child := range children {
		sum += child.Capacity()
	}
	if parentCapacity == 0 {
		if sum > capacityEpsilon {
			return fmt.Errorf("illegal capacity: children of a zero capacity parent sum to %.4f, all must be zero", sum)
		}
		return nil
	}
	if math.Abs(sum-1.0) > capacityEpsilon {
		return fmt.Errorf("illegal capacity: child capacities sum to %.4f, must total the parent share (1.0 +/- %.4f)",
			sum, capacityEpsilon)
	}
	return nil
}
