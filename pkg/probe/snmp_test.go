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

package probe

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

type fakeSNMPSession struct {
	connectErr error
	packet     *gosnmp.SnmpPacket
	getErr     error
	block      chan struct{}
	closeOnce  sync.Once
	requested  []string
}

func (f *fakeSNMPSession) Connect() error { return f.connectErr }

func (f *fakeSNMPSession) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	f.requested = oids

	if f.block != nil {
		<-f.block
	}

	return f.packet, f.getErr
}

func (f *fakeSNMPSession) Close() error {
	f.closeOnce.Do(func() {
		if f.block != nil {
			close(f.block)
		}
	})

	return nil
}

func newTestSNMPProbe(session *fakeSNMPSession) *SNMPProbe {
	p := NewSNMPProbe(logger.NewTestLogger())
	p.newSession = func(*gosnmp.GoSNMP) snmpSession { return session }

	return p
}

func snmpSpec(timeout time.Duration) models.ProbeSpec {
	spec := models.ProbeSpec{Protocol: models.ProtocolSNMP, Interval: models.Duration(5 * time.Second),
		Timeout: models.Duration(timeout)}
	_ = spec.Validate()

	return spec
}

func TestSNMPProbe_PollSuccess(t *testing.T) {
	session := &fakeSNMPSession{
		packet: &gosnmp.SnmpPacket{
			Variables: []gosnmp.SnmpPDU{
				{Name: oidSysDescr, Type: gosnmp.NoSuchObject},
				{Name: oidSysName, Type: gosnmp.OctetString, Value: []byte("TL-WR940N")},
				{Name: oidSysUptime, Type: gosnmp.TimeTicks, Value: uint32(12345600)},
				{Name: oidIfNumber, Type: gosnmp.Integer, Value: 5},
			},
		},
	}

	result := newTestSNMPProbe(session).Poll(context.Background(), "192.168.1.1",
		models.Credentials{Community: "public"}, snmpSpec(2*time.Second))

	require.True(t, result.Success, "failure: %+v", result.Failure)
	assert.Equal(t, models.ProtocolSNMP, result.Protocol)
	assert.Equal(t, "TL-WR940N", result.Metrics["sys_name"])
	assert.Equal(t, uint64(123456), result.Metrics["sys_uptime"])
	assert.Equal(t, int64(5), result.Metrics["if_number"])
	assert.NotContains(t, result.Metrics, "sys_descr")
	assert.Contains(t, result.Metrics, "rtt_ms")
	assert.Len(t, session.requested, 4)
}

func TestSNMPProbe_AuthorizationError(t *testing.T) {
	session := &fakeSNMPSession{packet: &gosnmp.SnmpPacket{Error: gosnmp.AuthorizationError}}

	result := newTestSNMPProbe(session).Poll(context.Background(), "192.168.1.1",
		models.Credentials{}, snmpSpec(time.Second))

	require.False(t, result.Success)
	assert.Equal(t, models.ErrorKindAuthenticationFailed, result.FailureKind())
}

func TestSNMPProbe_EmptyResponseIsProtocolError(t *testing.T) {
	session := &fakeSNMPSession{packet: &gosnmp.SnmpPacket{
		Variables: []gosnmp.SnmpPDU{{Name: oidSysName, Type: gosnmp.NoSuchInstance}},
	}}

	result := newTestSNMPProbe(session).Poll(context.Background(), "192.168.1.1",
		models.Credentials{}, snmpSpec(time.Second))

	assert.Equal(t, models.ErrorKindProtocolError, result.FailureKind())
}

func TestSNMPProbe_TimeoutClosesSession(t *testing.T) {
	session := &fakeSNMPSession{block: make(chan struct{})}

	start := time.Now()
	result := newTestSNMPProbe(session).Poll(context.Background(), "192.168.1.1",
		models.Credentials{}, snmpSpec(30*time.Millisecond))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.ErrorKindTimeout, result.FailureKind())
}

func TestSNMPProbe_InvalidAddress(t *testing.T) {
	result := newTestSNMPProbe(&fakeSNMPSession{}).Poll(context.Background(), "10.0.0.1:notaport",
		models.Credentials{}, snmpSpec(time.Second))

	assert.Equal(t, models.ErrorKindUnreachable, result.FailureKind())
}

func TestConfigureSNMPVersion(t *testing.T) {
	t.Run("defaults to v2c public", func(t *testing.T) {
		client := &gosnmp.GoSNMP{}
		require.NoError(t, configureSNMPVersion(client, models.Credentials{}))
		assert.Equal(t, gosnmp.Version2c, client.Version)
		assert.Equal(t, "public", client.Community)
	})

	t.Run("v3 auth priv", func(t *testing.T) {
		client := &gosnmp.GoSNMP{}
		err := configureSNMPVersion(client, models.Credentials{
			Version: "v3", Username: "monitor",
			AuthProtocol: "sha256", AuthPassword: "authpass",
			PrivacyProtocol: "aes", PrivacyPassword: "privpass",
		})
		require.NoError(t, err)

		usm, ok := client.SecurityParameters.(*gosnmp.UsmSecurityParameters)
		require.True(t, ok)
		assert.Equal(t, gosnmp.Version3, client.Version)
		assert.Equal(t, gosnmp.AuthPriv, client.MsgFlags)
		assert.Equal(t, gosnmp.SHA256, usm.AuthenticationProtocol)
		assert.Equal(t, gosnmp.AES, usm.PrivacyProtocol)
	})

	t.Run("v3 without user", func(t *testing.T) {
		err := configureSNMPVersion(&gosnmp.GoSNMP{}, models.Credentials{Version: "v3"})
		require.ErrorIs(t, err, ErrMissingCredentials)
	})

	t.Run("unknown version", func(t *testing.T) {
		err := configureSNMPVersion(&gosnmp.GoSNMP{}, models.Credentials{Version: "v4"})
		require.ErrorIs(t, err, errUnsupportedSNMPVersion)
	})
}

func TestConvertVariable(t *testing.T) {
	value, err := convertVariable(gosnmp.SnmpPDU{Name: oidSysDescr, Type: gosnmp.OctetString, Value: []byte("RouterOS\x00")})
	require.NoError(t, err)
	assert.Equal(t, "RouterOS", value)

	_, err = convertVariable(gosnmp.SnmpPDU{Name: oidSysDescr, Type: gosnmp.OctetString, Value: "not-bytes"})
	require.ErrorIs(t, err, ErrSNMPConvert)

	value, err = convertVariable(gosnmp.SnmpPDU{Name: oidIfNumber, Type: gosnmp.Counter64, Value: uint64(42)})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), value)

	// counters above MaxInt64 must not wrap negative
	value, err = convertVariable(gosnmp.SnmpPDU{Name: oidIfNumber, Type: gosnmp.Counter64, Value: uint64(math.MaxUint64)})
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), value)

	value, err = convertVariable(gosnmp.SnmpPDU{Name: oidIfNumber, Type: gosnmp.Integer, Value: -3})
	require.NoError(t, err)
	assert.Equal(t, int64(-3), value)

	value, err = convertVariable(gosnmp.SnmpPDU{Name: oidIfNumber, Type: gosnmp.EndOfMibView})
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestSplitTarget(t *testing.T) {
	host, port, err := splitTarget("192.168.1.10", 161)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", host)
	assert.Equal(t, uint16(161), port)

	host, port, err = splitTarget("[fe80::1]:1161", 161)
	require.NoError(t, err)
	assert.Equal(t, "fe80::1", host)
	assert.Equal(t, uint16(1161), port)

	_, _, err = splitTarget("", 161)
	require.Error(t, err)
}
