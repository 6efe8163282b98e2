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

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capsched/capsched-core/pkg/common/configs"
	"github.com/capsched/capsched-core/pkg/common/resources"
	"github.com/capsched/capsched-core/pkg/log"
	"github.com/capsched/capsched-core/pkg/scheduler"
	"github.com/capsched/capsched-core/pkg/scheduler/objects"
	"github.com/capsched/capsched-core/pkg/trace"
	"github.com/capsched/capsched-core/pkg/webservice"
)

// capsched runs the capacity scheduler as a standalone service: it loads the
// queue configuration, registers a set of simulated nodes and serves the
// scheduler state over HTTP. Scheduling cycles run on a heartbeat ticker.
func main() {
	configPath := flag.String("config", "queues.yaml", "path to the queue configuration file")
	listenAddr := flag.String("listen", ":9080", "web-app listen address")
	nodeCount := flag.Int("nodes", 4, "number of simulated nodes to register")
	nodeMemory := flag.Int64("node-memory", 16384, "memory per simulated node")
	nodeVcores := flag.Int64("node-vcores", 16, "vcores per simulated node")
	heartbeat := flag.Duration("heartbeat", time.Second, "node heartbeat interval")
	flag.Parse()

	logger := log.Logger()

	buf, err := os.ReadFile(*configPath)
	if err != nil {
		logger.Fatal("cannot read configuration", zap.Error(err))
	}
	conf, err := configs.LoadSchedulerConfigFromByteArray(buf)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	tracer, closer, err := trace.NewTracerFromEnv("capsched")
	if err != nil {
		logger.Fatal("cannot initialize tracer", zap.Error(err))
	}
	defer closer.Close()

	minAllocation := resources.NewResourceFromMap(map[string]resources.Quantity{
		resources.MEMORY: 128,
		resources.VCORE:  1,
	})
	cs, err := scheduler.NewCapacityScheduler(conf, minAllocation, tracer)
	if err != nil {
		logger.Fatal("cannot create scheduler", zap.Error(err))
	}
	cs.StartService(false)

	nodes := make([]*objects.Node, 0, *nodeCount)
	for i := 0; i < *nodeCount; i++ {
		node := objects.NewNode(
			fmt.Sprintf("node-%d", i),
			fmt.Sprintf("rack-%d", i%2),
			resources.NewResourceFromMap(map[string]resources.Quantity{
				resources.MEMORY: resources.Quantity(*nodeMemory),
				resources.VCORE:  resources.Quantity(*nodeVcores),
			}))
		if err = cs.AddNode(node); err != nil {
			logger.Fatal("cannot register node", zap.Error(err))
		}
		nodes = append(nodes, node)
	}

	web := webservice.NewWebApp(cs)
	web.StartWebApp(*listenAddr)

	ticker := time.NewTicker(*heartbeat)
	defer ticker.Stop()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			for _, node := range nodes {
				if _, err = cs.Schedule(node.NodeID); err != nil {
					logger.Warn("scheduling cycle failed",
						zap.String("nodeID", node.NodeID),
						zap.Error(err))
				}
			}
		case sig := <-stop:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			if err = web.StopWebApp(); err != nil {
				logger.Warn("web-app shutdown failed", zap.Error(err))
			}
			cs.Stop()
			return
		}
	}
}
