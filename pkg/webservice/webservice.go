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

package webservice

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/capsched/capsched-core/pkg/locking"
	"github.com/capsched/capsched-core/pkg/log"
	"github.com/capsched/capsched-core/pkg/scheduler"
)

var lock locking.RWMutex
var schedulerContext *scheduler.CapacityScheduler

type WebService struct {
	httpServer *http.Server
}

func newRouter() *httprouter.Router {
	router := httprouter.New()
	for _, webRoute := range webRoutes {
		router.Handler(webRoute.Method, webRoute.Pattern, loggingHandler(webRoute.HandlerFunc, webRoute.Name))
	}
	return router
}

func loggingHandler(inner http.Handler, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inner.ServeHTTP(w, r)
		log.Logger().Debug(fmt.Sprintf("%s\t%s\t%s\t%s",
			r.Method, r.RequestURI, name, time.Since(start)))
	})
}

// StartWebApp starts the web server taking the address from the caller.
// It returns right away, the serving happens in a goroutine.
func (m *WebService) StartWebApp(addr string) {
	router := newRouter()
	m.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Logger().Info("web-app started", zap.String("address", addr))
	go func() {
		err := m.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Logger().Error("web-app failed", zap.Error(err))
		}
	}()
}

// StopWebApp gracefully shuts the web server down.
func (m *WebService) StopWebApp() error {
	if m.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.httpServer.Shutdown(ctx)
	}
	return nil
}

// NewWebApp creates the web application serving the scheduler state.
func NewWebApp(context *scheduler.CapacityScheduler) *WebService {
	m := &WebService{}
	lock.Lock()
	defer lock.Unlock()
	schedulerContext = context
	return m
}
