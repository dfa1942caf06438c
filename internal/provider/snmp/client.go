package snmp

import (
	"errors"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"
)

// Auth holds SNMP v2c community or v3 USM parameters.
type Auth struct {
	Community      string
	Username       string
	AuthProtocol   gosnmp.SnmpV3AuthProtocol
	AuthPassphrase string
	PrivProtocol   gosnmp.SnmpV3PrivProtocol
	PrivPassphrase string
	SecurityLevel  gosnmp.SnmpV3MsgFlags
}

// ClientConfig defines how to reach the device.
type ClientConfig struct {
	Target         string
	Port           uint16
	Version        gosnmp.SnmpVersion
	Auth           Auth
	Timeout        time.Duration
	Retries        int
	MaxRepetitions uint32
}

// Walker walks one subtree and hands every PDU to fn.
type Walker interface {
	BulkWalk(rootOid string, fn gosnmp.WalkFunc) error
	Close() error
}

type client struct {
	gs *gosnmp.GoSNMP
}

// Dial connects a gosnmp session for v1, v2c or v3.
func Dial(config ClientConfig) (Walker, error) {
	config = normalizeClientConfig(config)
	if config.Target == "" {
		return nil, errors.New("SNMP target is required")
	}

	gs := &gosnmp.GoSNMP{
		Target:         config.Target,
		Port:           config.Port,
		Version:        config.Version,
		Timeout:        config.Timeout,
		Retries:        config.Retries,
		MaxRepetitions: config.MaxRepetitions,
	}

	switch config.Version {
	case gosnmp.Version3:
		if config.Auth.Username == "" {
			return nil, errors.New("SNMP v3 username is required")
		}
		gs.SecurityModel = gosnmp.UserSecurityModel
		gs.MsgFlags = config.Auth.SecurityLevel
		gs.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 config.Auth.Username,
			AuthenticationProtocol:   config.Auth.AuthProtocol,
			AuthenticationPassphrase: config.Auth.AuthPassphrase,
			PrivacyProtocol:          config.Auth.PrivProtocol,
			PrivacyPassphrase:        config.Auth.PrivPassphrase,
		}
	default:
		gs.Community = config.Auth.Community
	}

	if err := gs.Connect(); err != nil {
		return nil, fmt.Errorf("SNMP connect failed: %w", err)
	}
	return &client{gs: gs}, nil
}

func (c *client) BulkWalk(rootOid string, fn gosnmp.WalkFunc) error {
	// SNMPv1 has no GETBULK.
	if c.gs.Version == gosnmp.Version1 {
		return c.gs.Walk(rootOid, fn)
	}
	return c.gs.BulkWalk(rootOid, fn)
}

func (c *client) Close() error {
	if c.gs == nil || c.gs.Conn == nil {
		return nil
	}
	return c.gs.Conn.Close()
}

func normalizeClientConfig(config ClientConfig) ClientConfig {
	if config.Port == 0 {
		config.Port = 161
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 1
	}
	if config.MaxRepetitions == 0 {
		config.MaxRepetitions = 25
	}

	if config.Version == gosnmp.Version3 {
		if config.Auth.SecurityLevel == 0 {
			config.Auth.SecurityLevel = inferSecurityLevel(config.Auth)
		}
		if config.Auth.AuthProtocol == 0 {
			config.Auth.AuthProtocol = gosnmp.NoAuth
		}
		if config.Auth.PrivProtocol == 0 {
			config.Auth.PrivProtocol = gosnmp.NoPriv
		}
	} else if config.Auth.Community == "" {
		config.Auth.Community = "public"
	}

	return config
}

func inferSecurityLevel(auth Auth) gosnmp.SnmpV3MsgFlags {
	if auth.PrivPassphrase != "" {
		return gosnmp.AuthPriv
	}
	if auth.AuthPassphrase != "" {
		return gosnmp.AuthNoPriv
	}
	return gosnmp.NoAuthNoPriv
}

// ParseVersion maps "1", "2c" and "3" to gosnmp versions.
func ParseVersion(s string) (gosnmp.SnmpVersion, error) {
	switch s {
	case "1":
		return gosnmp.Version1, nil
	case "", "2c", "2":
		return gosnmp.Version2c, nil
	case "3":
		return gosnmp.Version3, nil
	default:
		return 0, fmt.Errorf("unsupported SNMP version %q", s)
	}
}
