// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

// The sentinel-sensor-mock binary publishes synthetic acoustic
// inference events to the broker, for exercising the ingest service
// without physical sensors on the line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/sentinel-works/sentinel/lib/process"
	"github.com/sentinel-works/sentinel/lib/schema/anomaly"
	"github.com/sentinel-works/sentinel/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		brokerURL    string
		topic        string
		devices      int
		interval     time.Duration
		anomalyRatio float64
		showVersion  bool
	)
	pflag.StringVar(&brokerURL, "broker", "tcp://localhost:1883", "MQTT broker address")
	pflag.StringVar(&topic, "topic", "/machine/audio/inference", "topic to publish inference events on")
	pflag.IntVar(&devices, "devices", 3, "number of simulated devices")
	pflag.DurationVar(&interval, "interval", 2*time.Second, "delay between published events")
	pflag.Float64Var(&anomalyRatio, "anomaly-ratio", 0.2, "fraction of events labeled anomalous")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		version.Print("sentinel-sensor-mock")
		return nil
	}
	if devices < 1 {
		return fmt.Errorf("--devices must be at least 1")
	}
	if anomalyRatio < 0 || anomalyRatio > 1 {
		return fmt.Errorf("--anomaly-ratio must be within [0, 1]")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(fmt.Sprintf("sentinel-sensor-mock-%s", uuid.NewString()[:8])).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to %s: %w", brokerURL, token.Error())
	}
	defer client.Disconnect(250)

	logger.Info("publishing synthetic events",
		"broker", brokerURL,
		"topic", topic,
		"devices", devices,
		"interval", interval,
		"anomaly_ratio", anomalyRatio)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping")
			return nil
		case <-ticker.C:
			event := synthesize(devices, anomalyRatio)
			payload, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("encoding event: %w", err)
			}
			token := client.Publish(topic, 1, false, payload)
			token.Wait()
			if err := token.Error(); err != nil {
				logger.Warn("publish failed", "error", err)
				continue
			}
			logger.Info("published",
				"device", event.DeviceID,
				"label", event.Label,
				"score", event.Score)
		}
	}
}

// synthesize produces one random inference event. Anomalous events
// score in the upper half of the range so they classify as warnings
// or criticals; normal events stay in the lower half.
func synthesize(devices int, anomalyRatio float64) anomaly.EventPayload {
	deviceID := fmt.Sprintf("machine-%02d", rand.IntN(devices)+1)
	if rand.Float64() < anomalyRatio {
		return anomaly.EventPayload{
			DeviceID: deviceID,
			Label:    anomaly.LabelAnomalous,
			Score:    0.5 + rand.Float64()*0.5,
		}
	}
	return anomaly.EventPayload{
		DeviceID: deviceID,
		Label:    anomaly.LabelNormal,
		Score:    rand.Float64() * 0.5,
	}
}
