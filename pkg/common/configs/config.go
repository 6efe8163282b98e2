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
	"crypto/sha256"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/capsched/capsched-core/pkg/log"
)

// The scheduler configuration is a single queue hierarchy. The first, and
// only, entry in Queues must be the root queue definition.
type SchedulerConfig struct {
	Queues   []QueueConfig
	Checksum string `yaml:",omitempty" json:",omitempty"`
}

// The queue object for each queue:
// - the name of the queue
// - the configured capacity as a percentage of the parent capacity
// - the configured maximum capacity as a percentage of the cluster (0 = not limited)
// - the administrative state of the queue
// - ACLs for submit and or admin access
// - a list of sub or child queues
type QueueConfig struct {
	Name            string
	Parent          bool          `yaml:",omitempty" json:",omitempty"`
	Capacity        float64       `yaml:",omitempty" json:",omitempty"`
	MaximumCapacity float64       `yaml:",omitempty" json:",omitempty"`
	State           string        `yaml:",omitempty" json:",omitempty"`
	AdminACL        string        `yaml:",omitempty" json:",omitempty"`
	SubmitACL       string        `yaml:",omitempty" json:",omitempty"`
	Queues          []QueueConfig `yaml:",omitempty" json:",omitempty"`
}

// IsParent returns true if the queue is configured as an inner tree node.
// The explicit flag allows configuring a parent without children yet.
func (q QueueConfig) IsParent() bool {
	return q.Parent || len(q.Queues) > 0
}

// Load the config from the bytes and validate it.
// The returned config has its checksum set based on the loaded bytes.
func LoadSchedulerConfigFromByteArray(content []byte) (*SchedulerConfig, error) {
	conf := &SchedulerConfig{}
	if err := yaml.Unmarshal(content, conf); err != nil {
		log.Logger().Error("failed to parse queue configuration",
			zap.Error(err))
		return nil, err
	}
	// validate the config before returning it
	if err := Validate(conf); err != nil {
		return nil, err
	}
	conf.Checksum = fmt.Sprintf("%X", sha256.Sum256(content))
	return conf, nil
}
