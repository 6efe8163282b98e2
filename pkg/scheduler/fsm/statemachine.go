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

package fsm

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/capsched/capsched-core/pkg/log"
)

// SchedulerStateType is the lifecycle state of the scheduler service.
type SchedulerStateType string

const (
	New           SchedulerStateType = "New"
	Recovering    SchedulerStateType = "Recovering"
	Running       SchedulerStateType = "Running"
	RecoverFailed SchedulerStateType = "RecoverFailed"
	Stopped       SchedulerStateType = "Stopped"
)

// SchedulerEventType drives the lifecycle transitions.
type SchedulerEventType string

const (
	StartScheduler          SchedulerEventType = "StartScheduler"
	RecoverScheduler        SchedulerEventType = "RecoverScheduler"
	RecoverSchedulerSuccess SchedulerEventType = "RecoverSchedulerSuccess"
	RecoverSchedulerFail    SchedulerEventType = "RecoverSchedulerFail"
	StopScheduler           SchedulerEventType = "StopScheduler"
)

type SchedulerStateEvent struct {
	EventType SchedulerEventType
	Args      []interface{}
}

// SchedulerStateMachine serializes lifecycle events through a single
// handling goroutine. The scheduler only serves requests in Running state.
type SchedulerStateMachine struct {
	stateMachine  *fsm.FSM
	pendingEvents chan SchedulerStateEvent
	stopChan      chan interface{}
}

func NewSchedulerStateMachine() *SchedulerStateMachine {
	sm := &SchedulerStateMachine{}
	sm.pendingEvents = make(chan SchedulerStateEvent, 1024)
	sm.stopChan = make(chan interface{})
	sm.stateMachine = fsm.NewFSM(string(New),
		fsm.Events{
			{
				Name: string(StartScheduler),
				Src:  []string{string(New)},
				Dst:  string(Running),
			},
			{
				Name: string(RecoverScheduler),
				Src:  []string{string(New)},
				Dst:  string(Recovering),
			},
			{
				Name: string(RecoverSchedulerSuccess),
				Src:  []string{string(Recovering)},
				Dst:  string(Running),
			},
			{
				Name: string(RecoverSchedulerFail),
				Src:  []string{string(Recovering)},
				Dst:  string(RecoverFailed),
			},
			{
				Name: string(StopScheduler),
				Src:  []string{string(New), string(Recovering), string(Running)},
				Dst:  string(Stopped),
			},
		},
		fsm.Callbacks{},
	)
	return sm
}

func (sm *SchedulerStateMachine) EnqueueSchedulerStateEvent(event SchedulerStateEvent) error {
	select {
	case sm.pendingEvents <- event:
		return nil
	default:
		return fmt.Errorf("failed to enqueue event %s", event.EventType)
	}
}

func (sm *SchedulerStateMachine) startEventHandling() {
	for {
		select {
		case event := <-sm.pendingEvents:
			log.Logger().Debug("scheduler state transition",
				zap.String("preState", sm.stateMachine.Current()),
				zap.String("pendingEvent", string(event.EventType)))
			if err := sm.stateMachine.Event(context.Background(), string(event.EventType), event.Args...); err != nil {
				log.Logger().Error("state machine", zap.Error(err))
			}
			log.Logger().Debug("scheduler state transition",
				zap.String("postState", sm.stateMachine.Current()),
				zap.String("handledEvent", string(event.EventType)))
		case <-sm.stopChan:
			close(sm.pendingEvents)
			sm.stateMachine.SetState(string(Stopped))
			return
		}
	}
}

// BlockUntilStarted triggers the startup, or recovery, sequence and blocks
// until the state machine reaches Running.
func (sm *SchedulerStateMachine) BlockUntilStarted(recoveryMode bool) {
	go sm.startEventHandling()

	eventType := StartScheduler
	if recoveryMode {
		eventType = RecoverScheduler
	}
	if err := sm.EnqueueSchedulerStateEvent(SchedulerStateEvent{EventType: eventType}); err != nil {
		log.Logger().Fatal("unable to start scheduler", zap.Error(err))
	}

	// scheduler can only serve requests under Running state
	if err := sm.waitForState(10*time.Minute, Running); err != nil {
		log.Logger().Fatal("scheduler failed to reach Running state", zap.Error(err))
	}
}

func (sm *SchedulerStateMachine) Current() SchedulerStateType {
	return SchedulerStateType(sm.stateMachine.Current())
}

func (sm *SchedulerStateMachine) IsRunning() bool {
	return sm.stateMachine.Is(string(Running))
}

func (sm *SchedulerStateMachine) Stop() {
	sm.stopChan <- 0
}

func (sm *SchedulerStateMachine) waitForState(timeout time.Duration, expectedState SchedulerStateType) error {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for reaching state %s", expectedState)
		}
		if string(expectedState) == sm.stateMachine.Current() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}
