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

package configs

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/capsched/capsched-core/pkg/common/security"
)

const (
	RootQueue = "root"
	DOT       = "."

	// the root capacity is fixed, any other value is a config error
	RootCapacityPercentage = float64(100)
	// maximum capacity that is not set in the config defaults to the cluster
	DefaultMaximumCapacity = float64(100)
)

// administrative queue states as written in the config
const (
	StateRunning  = "running"
	StateStopped  = "stopped"
	StateDraining = "draining"
)

// A queue can be a username with the dot replaced. Most systems allow a 32 character user name.
// The queue name must thus allow for at least that length with the replacement of dots.
var QueueNameRegExp = regexp.MustCompile("^[a-zA-Z0-9_-]{1,64}$")

// Check the ACL
func checkACL(acl string) error {
	// trim any white space
	acl = strings.TrimSpace(acl)
	// handle special cases: deny and wildcard
	if len(acl) == 0 || acl == security.WildCard {
		return nil
	}

	// should have no more than two parts defined: users and groups
	fields := strings.Fields(acl)
	if len(fields) > 2 {
		return fmt.Errorf("multiple spaces found in ACL: '%s'", acl)
	}
	return nil
}

// check the state value from the config, an unset state means running
func checkState(state string) error {
	switch state {
	case "", StateRunning, StateStopped, StateDraining:
		return nil
	}
	return fmt.Errorf("invalid queue state '%s', must be one of running, stopped or draining", state)
}

// Check the capacity percentages of a single queue.
// The relation between a queue and its siblings is checked when the queue
// objects are built, this only checks the standalone ranges.
func checkCapacities(queue QueueConfig) error {
	if queue.Capacity < 0 || queue.Capacity > 100 {
		return fmt.Errorf("illegal capacity of %.3f for queue %s, must be between 0 and 100",
			queue.Capacity, queue.Name)
	}
	if queue.MaximumCapacity < 0 || queue.MaximumCapacity > 100 {
		return fmt.Errorf("illegal maximum capacity of %.3f for queue %s, must be between 0 and 100",
			queue.MaximumCapacity, queue.Name)
	}
	// an unset maximum capacity (0) means not limited
	if queue.MaximumCapacity != 0 && queue.Capacity > queue.MaximumCapacity {
		return fmt.Errorf("illegal capacity of %.3f for queue %s, above maximum capacity %.3f",
			queue.Capacity, queue.Name, queue.MaximumCapacity)
	}
	return nil
}

// Check a single queue and its children recursively.
func checkQueue(queue QueueConfig) error {
	if !QueueNameRegExp.MatchString(queue.Name) {
		return fmt.Errorf("invalid queue name %s, a name must only have alphanumeric characters,"+
			" - or _, and be no longer than 64 characters", queue.Name)
	}
	if err := checkCapacities(queue); err != nil {
		return err
	}
	if err := checkState(queue.State); err != nil {
		return err
	}
	if err := checkACL(queue.SubmitACL); err != nil {
		return err
	}
	if err := checkACL(queue.AdminACL); err != nil {
		return err
	}
	// a leaf cannot have children
	if !queue.IsParent() && len(queue.Queues) > 0 {
		return fmt.Errorf("queue %s is not a parent but has child queues defined", queue.Name)
	}
	// check the child names for uniqueness inside this parent
	seen := make(map[string]bool)
	for _, child := range queue.Queues {
		name := strings.ToLower(child.Name)
		if seen[name] {
			return fmt.Errorf("duplicate child queue name %s in queue %s", child.Name, queue.Name)
		}
		seen[name] = true
		if err := checkQueue(child); err != nil {
			return err
		}
	}
	return nil
}

// Validate the scheduler config after the yaml parse:
// exactly one queue at the top level, named root, with the fixed 100% capacity.
func Validate(conf *SchedulerConfig) error {
	if conf == nil {
		return fmt.Errorf("scheduler config is not set")
	}
	if len(conf.Queues) != 1 {
		return fmt.Errorf("config must have exactly one root queue, found %d top level queues", len(conf.Queues))
	}
	root := conf.Queues[0]
	if strings.ToLower(root.Name) != RootQueue {
		return fmt.Errorf("top level queue must be named %s, found %s", RootQueue, root.Name)
	}
	if root.Capacity != RootCapacityPercentage {
		return fmt.Errorf("illegal capacity of %.3f for the root queue, the root is fixed at 100",
			root.Capacity)
	}
	if !root.IsParent() {
		return fmt.Errorf("the root queue must be a parent queue")
	}
	if err := checkQueue(root); err != nil {
		return err
	}
	// applications are routed by the short leaf name, it must be unique
	// across the whole tree not just within one parent
	return checkLeafNamesUnique(root, make(map[string]bool), make(map[string]bool))
}

// checkLeafNamesUnique walks the tree collecting the short leaf names. A
// name seen twice is rejected, as is a leaf named after a parent on its own
// path: the submission propagating up the chain would be rejected at that
// parent and never reach the leaf.
func checkLeafNamesUnique(queue QueueConfig, seen, ancestors map[string]bool) error {
	queueName := strings.ToLower(queue.Name)
	ancestors[queueName] = true
	defer delete(ancestors, queueName)
	for _, child := range queue.Queues {
		if child.IsParent() {
			if err := checkLeafNamesUnique(child, seen, ancestors); err != nil {
				return err
			}
			continue
		}
		name := strings.ToLower(child.Name)
		if seen[name] {
			return fmt.Errorf("duplicate leaf queue name %s, leaf names must be unique across the tree", child.Name)
		}
		if ancestors[name] {
			return fmt.Errorf("leaf queue name %s is also the name of a parent queue above it, applications can never reach it", child.Name)
		}
		seen[name] = true
	}
	return nil
}
