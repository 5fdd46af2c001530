/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package registry

import (
	"sort"
	"strings"

	"github.com/carverauto/arnet/pkg/models"
)

// addressIndex tracks which active devices are polled at each host.
type addressIndex map[string]map[string]struct{}

func addressKey(identity *models.DeviceIdentity) string {
	host, err := identity.Host()
	if err != nil {
		return strings.TrimSpace(identity.Address)
	}

	return host
}

func (idx addressIndex) add(identity *models.DeviceIdentity) {
	key := addressKey(identity)
	if key == "" {
		return
	}

	bucket := idx[key]
	if bucket == nil {
		bucket = make(map[string]struct{})
		idx[key] = bucket
	}

	bucket[identity.DeviceID] = struct{}{}
}

func (idx addressIndex) remove(identity *models.DeviceIdentity) {
	key := addressKey(identity)

	if bucket, ok := idx[key]; ok {
		delete(bucket, identity.DeviceID)

		if len(bucket) == 0 {
			delete(idx, key)
		}
	}
}

// others returns the IDs, other than identity's own, already indexed at identity's host.
func (idx addressIndex) others(identity *models.DeviceIdentity) []string {
	bucket := idx[addressKey(identity)]

	out := make([]string, 0, len(bucket))

	for id := range bucket {
		if id != identity.DeviceID {
			out = append(out, id)
		}
	}

	sort.Strings(out)

	return out
}

func (idx addressIndex) lookup(address string) []string {
	probe := models.DeviceIdentity{Address: address}

	bucket := idx[addressKey(&probe)]
	if len(bucket) == 0 {
		return nil
	}

	out := make([]string, 0, len(bucket))
	for id := range bucket {
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}
