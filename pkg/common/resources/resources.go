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

package resources

import (
	"fmt"
	"strconv"
)

// const keys
const (
	MEMORY = "memory"
	VCORE  = "vcore"
)

type Resource struct {
	Resources map[string]Quantity
}

// No unit defined here for better performance
type Quantity int64

var zeroResource = NewResource()

func NewResource() *Resource {
	return &Resource{Resources: make(map[string]Quantity)}
}

func NewResourceFromMap(m map[string]Quantity) *Resource {
	return &Resource{Resources: m}
}

// Create a new resource with the memory quantity set.
// The capacity tree accounts in memory only, this is the constructor used
// on the allocation path.
func NewMemoryResource(memory Quantity) *Resource {
	return &Resource{Resources: map[string]Quantity{MEMORY: memory}}
}

// Create a new resource from the config map.
// The config map must have been checked before being applied. The check here is just for safety so we do not crash.
func NewResourceFromConf(configMap map[string]string) (*Resource, error) {
	res := NewResource()
	for key, strVal := range configMap {
		intValue, err := strconv.ParseInt(strVal, 10, 64)
		if err != nil {
			return nil, err
		}
		res.Resources[key] = Quantity(intValue)
	}
	return res, nil
}

func (r *Resource) String() string {
	if r == nil {
		return "nil resource"
	}
	return fmt.Sprintf("%v", r.Resources)
}

// Return the memory quantity of the resource, nil safe.
// The scalar used for all capacity percentage calculations.
func (r *Resource) Memory() Quantity {
	if r == nil {
		return 0
	}
	return r.Resources[MEMORY]
}

// Return a clone (copy) of the resource it is called on.
// This provides a deep copy of the object with the exact same member set.
// NOTE: this is a clone not a sparse copy of the original.
func (r *Resource) Clone() *Resource {
	ret := NewResource()
	if r != nil {
		for k, v := range r.Resources {
			ret.Resources[k] = v
		}
		return ret
	}
	return nil
}

// Operations
// All operations must be nil safe

// Add resources returning a new resource with the result
// A nil resource is considered an empty resource
func Add(left, right *Resource) *Resource {
	// check nil inputs and shortcut
	if left == nil {
		left = zeroResource
	}
	if right == nil {
		right = zeroResource
	}

	out := NewResource()
	for k, v := range right.Resources {
		out.Resources[k] = v
	}
	for k, v := range left.Resources {
		out.Resources[k] += v
	}
	return out
}

// Subtract resource returning a new resource with the result
// A nil resource is considered an empty resource
// This might return negative values for specific quantities
func Sub(left, right *Resource) *Resource {
	if left == nil {
		left = zeroResource
	}
	if right == nil {
		right = zeroResource
	}

	out := NewResource()
	for k, v := range left.Resources {
		out.Resources[k] = v
	}
	for k, v := range right.Resources {
		out.Resources[k] -= v
	}
	return out
}

// Subtract resource returning a new resource with the result. A nil resource
// is considered an empty resource. The result is checked for negative values:
// an error is returned if any quantity went negative, together with the
// subtraction result with all negative values reset to zero.
func SubErrorNegative(left, right *Resource) (*Resource, error) {
	if left == nil {
		left = zeroResource
	}
	if right == nil {
		right = zeroResource
	}

	var err error
	out := NewResource()
	for k, v := range left.Resources {
		out.Resources[k] = v
	}
	for k, v := range right.Resources {
		out.Resources[k] -= v
		if out.Resources[k] < 0 {
			err = fmt.Errorf("resource quantity %s went negative (%d)", k, out.Resources[k])
			out.Resources[k] = 0
		}
	}
	return out, err
}

// Add additional resource to the base updating the base resource
// Should be used by temporary computation only
// A nil addition is treated as a zero valued resource and leaves base unchanged
func (r *Resource) AddTo(add *Resource) {
	if add == nil {
		return
	}
	for k, v := range add.Resources {
		r.Resources[k] += v
	}
}

// Subtract from the base resource the subtract resource by updating the base resource
// Should be used by temporary computation only
// A nil subtract is treated as a zero valued resource and leaves base unchanged
func (r *Resource) SubFrom(subtract *Resource) {
	if subtract == nil {
		return
	}
	for k, v := range subtract.Resources {
		r.Resources[k] -= v
	}
}

// Check if smaller fits in larger, negative values will be treated as 0
// A nil resource is treated as an empty resource (zero)
func FitIn(larger, smaller *Resource) bool {
	if larger == nil {
		larger = zeroResource
	}
	if smaller == nil {
		smaller = zeroResource
	}

	for k, v := range smaller.Resources {
		largerValue := larger.Resources[k]
		if largerValue < 0 {
			largerValue = 0
		}
		if v > largerValue {
			return false
		}
	}
	return true
}

// Compare the resources equal returns the specific values for following cases:
// left  right  return
// nil   nil    true
// nil   <set>  false
// <set> nil    false
// <set> <set>  true/false  *based on the individual Quantity values
func Equals(left, right *Resource) bool {
	if left == right {
		return true
	}

	if left == nil || right == nil {
		return false
	}

	for k, v := range left.Resources {
		if right.Resources[k] != v {
			return false
		}
	}

	for k, v := range right.Resources {
		if left.Resources[k] != v {
			return false
		}
	}

	return true
}

// Multiply the resource by the ratio returning a new resource
// A nil resource passed in returns a new empty resource (zero)
func MultiplyBy(left *Resource, ratio float64) *Resource {
	ret := NewResource()
	if left != nil {
		for k, v := range left.Resources {
			ret.Resources[k] = Quantity(float64(v) * ratio)
		}
	}
	return ret
}

// Have at least one quantity > 0, and no quantities < 0
// A nil resource is not strictly greater than zero.
func StrictlyGreaterThanZero(larger *Resource) bool {
	var greater = false
	if larger != nil {
		for _, v := range larger.Resources {
			if v < 0 {
				greater = false
				break
			} else if v > 0 {
				greater = true
			}
		}
	}
	return greater
}

func minQuantity(x, y Quantity) Quantity {
	if x < y {
		return x
	}
	return y
}

// Returns a new resource with the smallest value for each entry in the resources
// If either resource passed in is nil a zero resource is returned
func ComponentWiseMin(left, right *Resource) *Resource {
	out := NewResource()
	if left != nil && right != nil {
		for k, v := range left.Resources {
			out.Resources[k] = minQuantity(v, right.Resources[k])
		}
		for k, v := range right.Resources {
			out.Resources[k] = minQuantity(v, left.Resources[k])
		}
	}
	return out
}

// Check that the whole resource is zero
// A nil resource is zero (contrary to StrictlyGreaterThanZero)
func IsZero(zero *Resource) bool {
	if zero != nil {
		for _, v := range zero.Resources {
			if v != 0 {
				return false
			}
		}
	}
	return true
}

// The fraction of the cluster memory that used represents.
// A zero or nil cluster resource returns 0 usage, not a divide error: an
// empty cluster has no usable capacity so nothing can be "used" of it.
func FractionOfCluster(used, cluster *Resource) float64 {
	clusterMem := cluster.Memory()
	if clusterMem <= 0 {
		return 0
	}
	return float64(used.Memory()) / float64(clusterMem)
}
