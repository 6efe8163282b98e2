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

// Locality classifies an assignment relative to the data the container will
// process. Lower values are preferred, LocalityNone marks the absence of an
// assignment.
type Locality int

const (
	NodeLocal Locality = iota
	RackLocal
	OffSwitch
	LocalityNone
)

func (l Locality) String() string {
	return [...]string{"node_local", "rack_local", "off_switch", "none"}[l]
}

// betterLocality returns the more local of the two classifications.
func betterLocality(left, right Locality) Locality {
	if left < right {
		return left
	}
	return right
}
