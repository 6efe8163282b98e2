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

package security

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/capsched/capsched-core/pkg/log"
)

const (
	WildCard  = "*"
	Separator = ","
)

// User and group regexp, must allow at least what we allow in the config checks
var userNameRegExp = regexp.MustCompile("^[_a-zA-Z][a-zA-Z0-9_.@-]*[$]?$")
var groupRegExp = regexp.MustCompile("^[_a-zA-Z][a-zA-Z0-9_-]*$")

// ACL for a queue capability (submit or administer).
// An empty ACL is a deny, the wildcard allows everybody.
type ACL struct {
	users      map[string]bool
	groups     map[string]bool
	allAllowed bool
}

// set the user list in the ACL, invalid user names are ignored
func (a *ACL) setUsers(userList []string) {
	a.users = make(map[string]bool)
	// special case if the user list is just the wildcard
	if len(userList) == 1 && userList[0] == WildCard {
		log.Logger().Debug("user list is wildcard, allowing all access")
		a.allAllowed = true
		return
	}
	for _, user := range userList {
		// skip an empty user (happens if ACL is just groups)
		if user == "" {
			continue
		}
		if userNameRegExp.MatchString(user) {
			a.users[user] = true
		} else {
			log.Logger().Info("ignoring user in ACL definition",
				zap.String("user", user))
		}
	}
}

// set the group list in the ACL, invalid group names are ignored
func (a *ACL) setGroups(groupList []string) {
	a.groups = make(map[string]bool)
	// wildcard set by the user list makes the groups irrelevant
	if a.allAllowed {
		log.Logger().Debug("ignoring group list in ACL: wildcard set")
		return
	}
	if len(groupList) == 1 && groupList[0] == WildCard {
		log.Logger().Debug("group list is wildcard, allowing all access")
		a.users = make(map[string]bool)
		a.allAllowed = true
		return
	}
	for _, group := range groupList {
		// skip an empty group (happens if ACL is just users and ends in space)
		if group == "" {
			continue
		}
		if groupRegExp.MatchString(group) {
			a.groups[group] = true
		} else {
			log.Logger().Info("ignoring group in ACL definition",
				zap.String("group", group))
		}
	}
}

// NewACL creates an ACL from its configured string form:
// a comma separated list of users, optionally followed by a space and a
// comma separated list of groups. A single "*" is the wildcard.
func NewACL(aclStr string) (ACL, error) {
	acl := ACL{}
	if aclStr == "" {
		return acl, nil
	}
	// should have no more than a user and a group part
	fields := strings.Split(aclStr, " ")
	if len(fields) > 2 {
		return acl, fmt.Errorf("multiple spaces found in ACL: '%s'", aclStr)
	}
	acl.allAllowed = strings.TrimSpace(aclStr) == WildCard
	// parse users and groups
	acl.setUsers(strings.Split(fields[0], Separator))
	if len(fields) == 2 {
		acl.setGroups(strings.Split(fields[1], Separator))
	}
	return acl, nil
}

// CheckAccess checks if the user, or any of its groups, is part of the ACL.
func (a ACL) CheckAccess(userObj UserGroup) bool {
	// shortcut allow all
	if a.allAllowed {
		return true
	}
	// if the ACL is not the wildcard we have non nil lists
	if a.users[userObj.User] {
		return true
	}
	for _, group := range userObj.Groups {
		if a.groups[group] {
			return true
		}
	}
	return false
}
