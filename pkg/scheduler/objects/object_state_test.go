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
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/capsched/capsched-core/pkg/common/configs"
)

func TestObjectStateTransitions(t *testing.T) {
	sm := NewObjectState()
	assert.Equal(t, sm.Current(), Active.String(), "new state machine must be active")

	assert.NilError(t, sm.Event(context.Background(), Stop.String(), "test"), "stop failed")
	assert.Equal(t, sm.Current(), Stopped.String())

	assert.NilError(t, sm.Event(context.Background(), Start.String(), "test"), "restart failed")
	assert.Equal(t, sm.Current(), Active.String())

	assert.NilError(t, sm.Event(context.Background(), Remove.String(), "test"), "remove failed")
	assert.Equal(t, sm.Current(), Draining.String())

	// a draining queue can be resurrected by a config change
	assert.NilError(t, sm.Event(context.Background(), Start.String(), "test"), "start from draining failed")
	assert.Equal(t, sm.Current(), Active.String())
}

func TestApplyConfState(t *testing.T) {
	sm := NewObjectState()
	// empty state means running
	assert.NilError(t, applyConfState(sm, "", "root.test"), "empty state apply failed")
	assert.Equal(t, sm.Current(), Active.String())

	// same state twice must not error even though the fsm reports it
	assert.NilError(t, applyConfState(sm, configs.StateRunning, "root.test"), "same state apply failed")
	assert.Equal(t, sm.Current(), Active.String())

	assert.NilError(t, applyConfState(sm, configs.StateStopped, "root.test"), "stop apply failed")
	assert.Equal(t, sm.Current(), Stopped.String())

	assert.NilError(t, applyConfState(sm, configs.StateDraining, "root.test"), "draining apply failed")
	assert.Equal(t, sm.Current(), Draining.String())

	// every administrative state is reachable from every other
	assert.NilError(t, applyConfState(sm, configs.StateStopped, "root.test"), "stop from draining failed")
	assert.Equal(t, sm.Current(), Stopped.String())
	assert.NilError(t, applyConfState(sm, configs.StateDraining, "root.test"), "draining from stopped failed")
	assert.Equal(t, sm.Current(), Draining.String())
	assert.NilError(t, applyConfState(sm, configs.StateRunning, "root.test"), "running from draining failed")
	assert.Equal(t, sm.Current(), Active.String())
}
