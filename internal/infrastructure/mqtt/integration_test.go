//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ja2mqtt/internal/infrastructure/config"
)

// Integration tests against a live broker.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func integrationConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host: "127.0.0.1",
			Port: 1883,
		},
		QoS:       1,
		KeepAlive: 30,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func connectForTest(t *testing.T, statusTopic string) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Connect(ctx, integrationConfig(), ClientID("ja2mqtt-int"), statusTopic)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_Connect(t *testing.T) {
	client := connectForTest(t, "")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestIntegration_ConnectCancelled(t *testing.T) {
	cfg := integrationConfig()
	cfg.Broker.Port = 19999

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := Connect(ctx, cfg, ClientID("ja2mqtt-int"), "")
	if err == nil {
		t.Fatal("Connect() expected error for unreachable broker")
	}
}

func TestIntegration_PublishSubscribeRoundtrip(t *testing.T) {
	client := connectForTest(t, "")

	received := make(chan string, 1)
	err := client.Subscribe("ja2mqtt/int/roundtrip", 1, func(_ string, payload []byte) error {
		received <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish("ja2mqtt/int/roundtrip", []byte(`{"state":"READY"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `{"state":"READY"}` {
			t.Errorf("payload = %q, want %q", got, `{"state":"READY"}`)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestIntegration_WildcardSubscription(t *testing.T) {
	client := connectForTest(t, "")

	var mu sync.Mutex
	topics := make(map[string]bool)
	done := make(chan struct{}, 2)

	err := client.Subscribe("ja2mqtt/int/section/+", 1, func(topic string, _ []byte) error {
		mu.Lock()
		topics[topic] = true
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	client.Publish("ja2mqtt/int/section/1", []byte("{}"), 1, false)
	client.Publish("ja2mqtt/int/section/2", []byte("{}"), 1, false)

	for range 2 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for wildcard messages")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !topics["ja2mqtt/int/section/1"] || !topics["ja2mqtt/int/section/2"] {
		t.Errorf("received topics = %v", topics)
	}
}

func TestIntegration_Request(t *testing.T) {
	responder := connectForTest(t, "")
	client := connectForTest(t, "")

	err := responder.Subscribe("ja2mqtt/int/req", 1, func(_ string, payload []byte) error {
		return responder.Publish("ja2mqtt/int/resp", payload, 1, false)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg, err := client.Request(ctx, "ja2mqtt/int/req", []byte(`{"x":1}`), "ja2mqtt/int/resp")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if string(msg.Payload) != `{"x":1}` {
		t.Errorf("reply = %q", msg.Payload)
	}
	if client.HasSubscription("ja2mqtt/int/resp") {
		t.Error("reply subscription should be removed")
	}
}

func TestIntegration_OnlineStatusRetained(t *testing.T) {
	connectForTest(t, "ja2mqtt/int/status")

	watcher := connectForTest(t, "")
	got := make(chan []byte, 1)
	err := watcher.Subscribe("ja2mqtt/int/status", 1, func(_ string, payload []byte) error {
		select {
		case got <- payload:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-got:
		var status statusPayload
		if err := json.Unmarshal(payload, &status); err != nil {
			t.Fatalf("status payload is not JSON: %v", err)
		}
		if status.Status != statusOnline {
			t.Errorf("status = %q, want %q", status.Status, statusOnline)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for retained status")
	}
}
