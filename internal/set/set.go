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

// Package set provides set operations over string id slices.
package set

// Equal reports whether a and b hold the same ids, ignoring order and duplicates.
func Equal(a []string, b []string) bool {
	ha := toSet(a)
	hb := toSet(b)
	if len(ha) != len(hb) {
		return false
	}
	for k := range ha {
		if _, found := hb[k]; !found {
			return false
		}
	}
	return true
}

// Distinct returns a without duplicates, preserving first occurrence order.
func Distinct(a []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, found := seen[v]; found {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func toSet(a []string) map[string]struct{} {
	hash := make(map[string]struct{}, len(a))
	for _, v := range a {
		hash[v] = struct{}{}
	}
	return hash
}
