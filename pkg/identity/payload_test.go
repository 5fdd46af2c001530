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

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/arnet/pkg/models"
)

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    models.DeviceIdentity
		wantErr error
	}{
		{
			name: "minimal qr payload",
			raw:  `{"device_id": "SW1", "ip": "192.168.1.2"}`,
			want: models.DeviceIdentity{DeviceID: "SW1", Address: "192.168.1.2"},
		},
		{
			name: "full payload with kind",
			raw:  `{"device_id":"R1","ip":"10.0.0.1","model":"TL-WR940N","kind":"router","location":"lab"}`,
			want: models.DeviceIdentity{
				DeviceID: "R1", Address: "10.0.0.1", Model: "TL-WR940N",
				Kind: models.DeviceKindRouter, Location: "lab",
			},
		},
		{
			name: "type alias and address field",
			raw:  `{"device_id":" AP7 ","address":"10.0.0.7","type":"access_point"}`,
			want: models.DeviceIdentity{DeviceID: "AP7", Address: "10.0.0.7", Kind: models.DeviceKindAP},
		},
		{
			name:    "empty",
			raw:     "   ",
			wantErr: errEmptyPayload,
		},
		{
			name:    "not json",
			raw:     "SW1;192.168.1.2",
			wantErr: errMalformedJSON,
		},
		{
			name:    "missing device id",
			raw:     `{"ip":"10.0.0.1"}`,
			wantErr: errMissingDeviceID,
		},
		{
			name:    "missing ip",
			raw:     `{"device_id":"SW1"}`,
			wantErr: errMissingAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePayload([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
