// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/agent"
	"github.com/hibiki-im/hibiki-go/pkg/bot"
	"github.com/hibiki-im/hibiki-go/pkg/discovery"
	"github.com/hibiki-im/hibiki-go/pkg/ecdh"
	"github.com/hibiki-im/hibiki-go/pkg/network"
	"github.com/hibiki-im/hibiki-go/pkg/pipeline"
	"github.com/hibiki-im/hibiki-go/pkg/selector"
	"github.com/hibiki-im/hibiki-go/pkg/transport"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Account   accountConf
	Network   networkConf
	Store     storeConf
	Pipeline  pipelineConf
	Discovery discoveryConf
	Agent     agentConf
	Logging   logConf
}

// accountConf describes the Account-configuration block.
type accountConf struct {
	ID          string
	Password    string
	PasswordMD5 string `toml:"password-md5"`
	Device      string
}

// networkConf describes the Network-configuration block. Durations are
// strings as accepted by time.ParseDuration.
type networkConf struct {
	Servers            []string
	Transport          string
	ConnectTimeout     string `toml:"connect-timeout"`
	HeartbeatInterval  string `toml:"heartbeat-interval"`
	HeartbeatTimeout   string `toml:"heartbeat-timeout"`
	RequestTimeout     string `toml:"request-timeout"`
	ReconnectAttempts  int    `toml:"reconnect-attempts"`
	ReconnectBackoff   string `toml:"reconnect-backoff"`
	InitialPublicKey   string `toml:"initial-public-key"`
	KeyRefreshInterval string `toml:"key-refresh-interval"`
	QUICInsecure       bool   `toml:"quic-insecure"`
	// FallbackKeyExchange skips ECDH, e.g., for hibiki-tool's development server.
	FallbackKeyExchange bool `toml:"fallback-key-exchange"`
}

// storeConf describes the Store-configuration block.
type storeConf struct {
	Path string
}

// pipelineConf describes the Pipeline-configuration block.
type pipelineConf struct {
	LongMessageThreshold int `toml:"long-message-threshold"`
	FragmentSize         int `toml:"fragment-size"`
	MaxForwardNodes      int `toml:"max-forward-nodes"`
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
}

// agentConf describes the Agent-configuration block.
type agentConf struct {
	Listen string
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// daemon bundles everything started from a configuration.
type daemon struct {
	bot       *bot.Bot
	agent     *agent.Agent
	discovery *discovery.Manager
}

func parseLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseDuration of an optional configuration value.
func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// loadDeviceGUID reads the device identity file, creating it with a new
// random GUID if it does not exist.
func loadDeviceGUID(filename string) ([]byte, error) {
	if filename == "" {
		return nil, fmt.Errorf("account.device is empty")
	}

	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		guid, parseErr := uuid.ParseBytes([]byte(strings.TrimSpace(string(data))))
		if parseErr != nil {
			return nil, fmt.Errorf("device file %s: %w", filename, parseErr)
		}
		return guid[:], nil

	case os.IsNotExist(err):
		guid := uuid.New()
		if err := os.WriteFile(filename, []byte(guid.String()+"\n"), 0600); err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{
			"file":   filename,
			"device": guid,
		}).Info("Created new device identity")
		return guid[:], nil

	default:
		return nil, err
	}
}

func parseIdentity(conf accountConf) (identity network.Identity, err error) {
	if conf.ID == "" {
		err = fmt.Errorf("account.id is empty")
		return
	}
	identity.Account = conf.ID

	switch {
	case conf.PasswordMD5 != "":
		if identity.PasswordMD5, err = hex.DecodeString(conf.PasswordMD5); err != nil {
			err = fmt.Errorf("account.password-md5: %w", err)
			return
		}
		if len(identity.PasswordMD5) != 16 {
			err = fmt.Errorf("account.password-md5 must be 16 bytes, not %d", len(identity.PasswordMD5))
			return
		}

	case conf.Password != "":
		identity.PasswordMD5 = network.PasswordMD5(conf.Password)

	default:
		err = fmt.Errorf("neither account.password nor account.password-md5 is set")
		return
	}

	identity.DeviceGUID, err = loadDeviceGUID(conf.Device)
	return
}

func parseBotConfig(conf tomlConfig) (botConf bot.Config, err error) {
	if botConf.Identity, err = parseIdentity(conf.Account); err != nil {
		return
	}

	if botConf.Transport, err = transport.ParseKind(conf.Network.Transport); err != nil {
		return
	}
	botConf.TransportConfig.QUICInsecure = conf.Network.QUICInsecure

	if conf.Network.FallbackKeyExchange {
		botConf.KeyExchange = ecdh.Fallback{}
	}

	if conf.Network.InitialPublicKey != "" {
		if botConf.InitialPublicKey, err = hex.DecodeString(conf.Network.InitialPublicKey); err != nil {
			err = fmt.Errorf("network.initial-public-key: %w", err)
			return
		}
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"network.connect-timeout", conf.Network.ConnectTimeout, &botConf.TransportConfig.ConnectTimeout},
		{"network.heartbeat-interval", conf.Network.HeartbeatInterval, &botConf.Network.HeartbeatInterval},
		{"network.heartbeat-timeout", conf.Network.HeartbeatTimeout, &botConf.Network.HeartbeatTimeout},
		{"network.request-timeout", conf.Network.RequestTimeout, &botConf.Network.RequestTimeout},
		{"network.key-refresh-interval", conf.Network.KeyRefreshInterval, &botConf.Network.KeyRefreshInterval},
		{"network.reconnect-backoff", conf.Network.ReconnectBackoff, &botConf.Selector.Backoff},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.name, d.value); err != nil {
			return
		}
	}

	botConf.Selector = selector.Config{
		Servers:        conf.Network.Servers,
		Attempts:       conf.Network.ReconnectAttempts,
		Backoff:        botConf.Selector.Backoff,
		ConnectTimeout: botConf.TransportConfig.ConnectTimeout,
	}

	botConf.Pipeline = pipeline.Config{
		LongMessageThreshold: conf.Pipeline.LongMessageThreshold,
		FragmentSize:         conf.Pipeline.FragmentSize,
		MaxForwardNodes:      conf.Pipeline.MaxForwardNodes,
	}

	botConf.StorePath = conf.Store.Path
	return
}

// parseDaemon creates and starts the daemon based on the given TOML configuration.
func parseDaemon(filename string) (d *daemon, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	parseLogging(conf.Logging)

	if conf.Store.Path == "" {
		log.Warn("store.path is empty, secrets will not be persisted")
	}

	botConf, err := parseBotConfig(conf)
	if err != nil {
		return
	}

	d = &daemon{}
	if d.bot, err = bot.New(botConf); err != nil {
		return
	}

	// Discovery
	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		if conf.Discovery.Interval == 0 {
			conf.Discovery.Interval = 10
		}

		d.discovery, err = discovery.NewManager(discovery.Config{
			Transport: botConf.Transport,
			Interval:  time.Duration(conf.Discovery.Interval) * time.Second,
			IPv4:      conf.Discovery.IPv4,
			IPv6:      conf.Discovery.IPv6,
		}, d.bot)
		if err != nil {
			d.close()
			return nil, err
		}
	}

	// Agent
	if conf.Agent.Listen != "" {
		if d.agent, err = agent.Start(conf.Agent.Listen, d.bot); err != nil {
			d.close()
			return nil, err
		}
	}

	return
}

func (d *daemon) close() {
	if d.agent != nil {
		if err := d.agent.Close(); err != nil {
			log.WithError(err).Warn("Closing agent errored")
		}
	}

	if d.discovery != nil {
		d.discovery.Close()
	}

	if err := d.bot.Close(); err != nil {
		log.WithError(err).Warn("Closing bot errored")
	}
}
