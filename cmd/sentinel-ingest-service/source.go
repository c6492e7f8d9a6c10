// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sentinel-works/sentinel/lib/schema/anomaly"
)

// BrokerState is the observable state of the broker connection,
// surfaced through the health endpoint.
type BrokerState string

const (
	BrokerDisconnected BrokerState = "disconnected"
	BrokerConnecting   BrokerState = "connecting"
	BrokerConnected    BrokerState = "connected"
	BrokerReconnecting BrokerState = "reconnecting"
	BrokerError        BrokerState = "error"
)

// Source subscribes to the inference topic and feeds every decodable
// event into the ingestor. Undecodable payloads are dropped with a
// log line; they never reach the store.
//
// The paho client owns reconnection. Source only tracks the state for
// health reporting and re-subscribes on every (re)connect, since a
// clean session loses subscriptions across drops.
type Source struct {
	client   mqtt.Client
	ingestor *Ingestor
	topic    string
	logger   *slog.Logger

	ctx context.Context

	mu        sync.Mutex
	state     BrokerState
	lastError error

	parseFailures atomic.Int64
}

// SourceConfig holds the broker subscription parameters.
type SourceConfig struct {
	// BrokerURL is the broker address, e.g. "tcp://localhost:1883".
	BrokerURL string

	// Topic is the telemetry topic to subscribe to.
	Topic string

	// ClientIDPrefix prefixes the randomized MQTT client id so broker
	// logs can tell services apart. A random suffix keeps concurrent
	// instances from kicking each other off the broker.
	ClientIDPrefix string
}

// NewSource builds the source and its MQTT client. The connection is
// not opened until Start.
func NewSource(cfg SourceConfig, ingestor *Ingestor, logger *slog.Logger) *Source {
	s := &Source{
		ingestor: ingestor,
		topic:    cfg.Topic,
		logger:   logger,
		state:    BrokerDisconnected,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, uuid.NewString()[:8])).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost).
		SetReconnectingHandler(s.onReconnecting)
	s.client = mqtt.NewClient(opts)
	return s
}

// Start opens the broker connection. Ingested events run under ctx;
// cancel it (and call Stop) to shut the source down.
//
// With connect retry enabled, Start returns once the connect attempt
// is underway; the client keeps retrying in the background, so a dead
// broker at boot does not fail the service.
func (s *Source) Start(ctx context.Context) {
	s.ctx = ctx
	s.setState(BrokerConnecting, nil)
	s.logger.Info("connecting to broker", "topic", s.topic)

	token := s.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.setState(BrokerError, err)
			s.logger.Error("broker connect failed", "error", err)
		}
	}()
}

// Stop disconnects from the broker, allowing a short drain for
// in-flight messages.
func (s *Source) Stop() {
	s.client.Disconnect(250)
	s.setState(BrokerDisconnected, nil)
	s.logger.Info("broker connection closed")
}

// State returns the current connection state and the last connection
// error, if any.
func (s *Source) State() (BrokerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastError
}

// ParseFailures returns the count of payloads dropped as undecodable.
func (s *Source) ParseFailures() int64 {
	return s.parseFailures.Load()
}

func (s *Source) setState(state BrokerState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.lastError = err
}

func (s *Source) onConnect(client mqtt.Client) {
	s.setState(BrokerConnected, nil)
	s.logger.Info("broker connected", "topic", s.topic)

	token := client.Subscribe(s.topic, 1, s.handleMessage)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.setState(BrokerError, err)
			s.logger.Error("topic subscribe failed", "topic", s.topic, "error", err)
		}
	}()
}

func (s *Source) onConnectionLost(_ mqtt.Client, err error) {
	s.setState(BrokerReconnecting, err)
	s.logger.Warn("broker connection lost", "error", err)
}

func (s *Source) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	s.setState(BrokerReconnecting, nil)
	s.logger.Info("reconnecting to broker")
}

// handleMessage decodes one broker message and hands it to the
// ingestor. Runs on the paho router goroutine.
func (s *Source) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var payload anomaly.EventPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		s.parseFailures.Add(1)
		s.logger.Warn("dropping undecodable event",
			"topic", msg.Topic(),
			"bytes", len(msg.Payload()),
			"error", err)
		return
	}

	if _, err := s.ingestor.Ingest(s.ctx, payload); err != nil {
		s.logger.Warn("event rejected",
			"topic", msg.Topic(),
			"device", payload.DeviceID,
			"error", err)
	}
}
