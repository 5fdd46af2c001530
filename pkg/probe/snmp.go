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
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

const (
	oidSysDescr  = ".1.3.6.1.2.1.1.1.0"
	oidSysUptime = ".1.3.6.1.2.1.1.3.0"
	oidSysName   = ".1.3.6.1.2.1.1.5.0"
	oidIfNumber  = ".1.3.6.1.2.1.2.1.0"

	snmpVersion1  = "v1"
	snmpVersion2c = "v2c"
	snmpVersion3  = "v3"

	defaultCommunity = "public"
)

var (
	// ErrSNMPConvert is returned when a PDU value does not match its declared type.
	ErrSNMPConvert            = errors.New("snmp value conversion failed")
	errUnsupportedSNMPVersion = errors.New("unsupported SNMP version")
)

// DefaultSNMPOIDs is the fixed metric set fetched when a spec does not override it.
func DefaultSNMPOIDs() map[string]string {
	return map[string]string{
		"sys_descr":  oidSysDescr,
		"sys_uptime": oidSysUptime,
		"sys_name":   oidSysName,
		"if_number":  oidIfNumber,
	}
}

// snmpSession is the subset of *gosnmp.GoSNMP used by the probe.
type snmpSession interface {
	Connect() error
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}

type goSNMPSession struct {
	*gosnmp.GoSNMP
}

func (s goSNMPSession) Close() error {
	if s.Conn == nil {
		return nil
	}

	return s.Conn.Close()
}

// SNMPProbe GETs a fixed OID set from the device.
type SNMPProbe struct {
	logger     logger.Logger
	newSession func(client *gosnmp.GoSNMP) snmpSession
}

// NewSNMPProbe creates an SNMP probe backed by gosnmp.
func NewSNMPProbe(log logger.Logger) *SNMPProbe {
	return &SNMPProbe{
		logger: log,
		newSession: func(client *gosnmp.GoSNMP) snmpSession {
			return goSNMPSession{GoSNMP: client}
		},
	}
}

// Protocol implements DiagnosticProbe.
func (*SNMPProbe) Protocol() models.Protocol {
	return models.ProtocolSNMP
}

// Poll implements DiagnosticProbe.
func (p *SNMPProbe) Poll(ctx context.Context, address string, creds models.Credentials,
	spec models.ProbeSpec) models.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(spec.Timeout))
	defer cancel()

	client, err := buildSNMPClient(ctx, address, creds, spec)
	if err != nil {
		return failure(models.ProtocolSNMP, err)
	}

	oids := spec.OIDs
	if len(oids) == 0 {
		oids = DefaultSNMPOIDs()
	}

	names, oidList := sortedOIDs(oids)

	session := p.newSession(client)
	if err := session.Connect(); err != nil {
		return failure(models.ProtocolSNMP, fmt.Errorf("snmp connect %s: %w", client.Target, err))
	}

	start := time.Now()

	type getResult struct {
		packet *gosnmp.SnmpPacket
		err    error
	}

	done := make(chan getResult, 1)

	go func() {
		packet, err := session.Get(oidList)
		done <- getResult{packet: packet, err: err}
	}()

	var res getResult

	select {
	case res = <-done:
		_ = session.Close()
	case <-ctx.Done():
		// closing the socket unblocks the pending Get
		_ = session.Close()

		return failure(models.ProtocolSNMP, fmt.Errorf("snmp get %s: %w", client.Target, ctx.Err()))
	}

	if res.err != nil {
		return failure(models.ProtocolSNMP, fmt.Errorf("snmp get %s: %w", client.Target, res.err))
	}

	metrics, err := p.collect(res.packet, oidNames(names, oidList))
	if err != nil {
		return failure(models.ProtocolSNMP, err)
	}

	metrics["rtt_ms"] = float64(time.Since(start).Microseconds()) / 1000.0

	return models.NewSuccess(models.ProtocolSNMP, time.Now(), metrics)
}

func (p *SNMPProbe) collect(packet *gosnmp.SnmpPacket, names map[string]string) (map[string]any, error) {
	if packet == nil {
		return nil, fmt.Errorf("%w: empty snmp response", ErrProtocol)
	}

	if packet.Error != gosnmp.NoError {
		if packet.Error == gosnmp.AuthorizationError {
			return nil, fmt.Errorf("%w: snmp %v", ErrAuthenticationFailed, packet.Error)
		}

		return nil, fmt.Errorf("%w: snmp error status %v at index %d", ErrProtocol, packet.Error, packet.ErrorIndex)
	}

	metrics := make(map[string]any, len(packet.Variables)+1)

	for _, variable := range packet.Variables {
		name, ok := names[normalizeOID(variable.Name)]
		if !ok {
			name = variable.Name
		}

		value, err := convertVariable(variable)
		if err != nil {
			p.logger.Debug().Err(err).Str("oid", variable.Name).Msg("Skipping unconvertible SNMP variable")
			continue
		}

		if value == nil {
			continue
		}

		metrics[name] = value
	}

	if len(metrics) == 0 {
		return nil, fmt.Errorf("%w: no usable snmp variables returned", ErrProtocol)
	}

	return metrics, nil
}

// convertVariable turns a PDU into a JSON-friendly value. Missing objects return nil without error.
func convertVariable(variable gosnmp.SnmpPDU) (interface{}, error) {
	switch variable.Type {
	case gosnmp.OctetString, gosnmp.ObjectDescription:
		b, ok := variable.Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: %s expected bytes, got %T", ErrSNMPConvert, variable.Name, variable.Value)
		}

		return strings.TrimRight(string(b), "\x00"), nil
	case gosnmp.Integer:
		return gosnmp.ToBigInt(variable.Value).Int64(), nil
	case gosnmp.Counter32, gosnmp.Gauge32, gosnmp.Counter64, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(variable.Value).Uint64(), nil
	case gosnmp.TimeTicks:
		// hundredths of a second
		return gosnmp.ToBigInt(variable.Value).Uint64() / 100, nil
	case gosnmp.IPAddress, gosnmp.ObjectIdentifier:
		s, ok := variable.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expected string, got %T", ErrSNMPConvert, variable.Name, variable.Value)
		}

		return s, nil
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s has unsupported type %v", ErrSNMPConvert, variable.Name, variable.Type)
	}
}

func buildSNMPClient(ctx context.Context, address string, creds models.Credentials,
	spec models.ProbeSpec) (*gosnmp.GoSNMP, error) {
	host, port, err := splitTarget(address, spec.Port)
	if err != nil {
		return nil, err
	}

	client := &gosnmp.GoSNMP{
		Target:    host,
		Port:      port,
		Transport: "udp",
		Timeout:   time.Duration(spec.Timeout),
		// retries are owned by the session layer
		Retries: 0,
		MaxOids: gosnmp.MaxOids,
		Context: ctx,
	}

	if err := configureSNMPVersion(client, creds); err != nil {
		return nil, err
	}

	return client, nil
}

func configureSNMPVersion(client *gosnmp.GoSNMP, creds models.Credentials) error {
	community := creds.Community
	if community == "" {
		community = defaultCommunity
	}

	switch strings.ToLower(creds.Version) {
	case snmpVersion1, "1":
		client.Version = gosnmp.Version1
		client.Community = community
	case snmpVersion2c, "2c", "":
		client.Version = gosnmp.Version2c
		client.Community = community
	case snmpVersion3, "3":
		if creds.Username == "" {
			return fmt.Errorf("%w: snmp v3 requires a username", ErrMissingCredentials)
		}

		usm := &gosnmp.UsmSecurityParameters{UserName: creds.Username}
		flags := configureV3Authentication(usm, creds)
		flags |= configureV3Privacy(usm, creds)

		client.Version = gosnmp.Version3
		client.SecurityModel = gosnmp.UserSecurityModel
		client.SecurityParameters = usm
		client.MsgFlags = flags
	default:
		return fmt.Errorf("%w: %s", errUnsupportedSNMPVersion, creds.Version)
	}

	return nil
}

func configureV3Authentication(usm *gosnmp.UsmSecurityParameters, creds models.Credentials) gosnmp.SnmpV3MsgFlags {
	switch strings.ToUpper(creds.AuthProtocol) {
	case "MD5":
		usm.AuthenticationProtocol = gosnmp.MD5
	case "SHA":
		usm.AuthenticationProtocol = gosnmp.SHA
	case "SHA224":
		usm.AuthenticationProtocol = gosnmp.SHA224
	case "SHA256":
		usm.AuthenticationProtocol = gosnmp.SHA256
	case "SHA384":
		usm.AuthenticationProtocol = gosnmp.SHA384
	case "SHA512":
		usm.AuthenticationProtocol = gosnmp.SHA512
	default:
		return gosnmp.NoAuthNoPriv
	}

	usm.AuthenticationPassphrase = creds.AuthPassword

	return gosnmp.AuthNoPriv
}

func configureV3Privacy(usm *gosnmp.UsmSecurityParameters, creds models.Credentials) gosnmp.SnmpV3MsgFlags {
	if usm.AuthenticationProtocol == gosnmp.NoAuth {
		return gosnmp.NoAuthNoPriv
	}

	switch strings.ToUpper(creds.PrivacyProtocol) {
	case "DES":
		usm.PrivacyProtocol = gosnmp.DES
	case "AES":
		usm.PrivacyProtocol = gosnmp.AES
	case "AES192":
		usm.PrivacyProtocol = gosnmp.AES192
	case "AES256":
		usm.PrivacyProtocol = gosnmp.AES256
	default:
		return gosnmp.NoAuthNoPriv
	}

	usm.PrivacyPassphrase = creds.PrivacyPassword

	return gosnmp.AuthPriv
}

// splitTarget separates an identity address into host and port, falling back to defaultPort
// when the address carries none.
func splitTarget(address string, defaultPort int) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		host = strings.Trim(address, "[]")
		portStr = ""
	}

	if host == "" {
		return "", 0, fmt.Errorf("%w: %q", errInvalidAddress, address)
	}

	port := defaultPort

	if portStr != "" {
		parsed, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %q", errInvalidAddress, address)
		}

		port = int(parsed)
	}

	if port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: port %d", errInvalidAddress, port)
	}

	return host, uint16(port), nil
}

func sortedOIDs(oids map[string]string) (names, list []string) {
	names = make([]string, 0, len(oids))
	for name := range oids {
		names = append(names, name)
	}

	sort.Strings(names)

	list = make([]string, 0, len(names))
	for _, name := range names {
		list = append(list, oids[name])
	}

	return names, list
}

func oidNames(names, oids []string) map[string]string {
	out := make(map[string]string, len(oids))
	for i, oid := range oids {
		out[normalizeOID(oid)] = names[i]
	}

	return out
}

func normalizeOID(oid string) string {
	return "." + strings.TrimPrefix(oid, ".")
}
