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

package models

import (
	"slices"
	"strings"
)

const DefaultAPIListenAddr = ":8090"

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// Allows reports whether origin may call the API. "*" allows any origin.
func (c CORSConfig) Allows(origin string) bool {
	return slices.ContainsFunc(c.AllowedOrigins, func(o string) bool {
		return o == "*" || strings.EqualFold(o, origin)
	})
}

// APIConfig configures the HTTP status API.
type APIConfig struct {
	Enabled    bool       `json:"enabled"`
	ListenAddr string     `json:"listen_addr"`
	APIKey     string     `json:"api_key,omitempty" sensitive:"true"`
	CORS       CORSConfig `json:"cors"`
}

// Validate fills defaults.
func (c *APIConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = DefaultAPIListenAddr
	}

	return nil
}
