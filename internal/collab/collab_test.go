// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"peereval.dev/peereval/pkg/model"
)

func TestResolveRole(t *testing.T) {
	a := &model.Assignment{ID: "a1", OwnerID: "prof"}
	var testCases = []struct {
		name       string
		actor      string
		admin      bool
		instructor bool
		expected   model.Role
	}{
		{"admin wins", "prof", true, true, model.RoleAdmin},
		{"owner", "prof", false, false, model.RoleOwner},
		{"instructor", "ta", false, true, model.RoleInstructor},
		{"student", "u1", false, false, model.RoleStudent},
		{"anonymous", "", false, false, model.RoleStudent},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ResolveRole(tc.actor, a, tc.admin, tc.instructor))
		})
	}

	assert.Equal(t, model.RoleStudent, ResolveRole("", &model.Assignment{}, false, false))
}
