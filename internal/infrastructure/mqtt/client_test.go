package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/pgdesk/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration pointing at a local broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "pgdesk-test",
		},
		QoS:         1,
		TopicPrefix: "pgdesk-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "user"
	cfg.Auth.Password = "pass"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "pgdesk-test" {
		t.Errorf("ClientID = %q, want pgdesk-test", opts.ClientID)
	}
	if opts.Username != "user" || opts.Password != "pass" {
		t.Errorf("credentials = %q/%q, want user/pass", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured without Broker.TLS")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %v, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig.MinVersion not set to TLS 1.2")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, NewTopics("pgdesk"), "pgdesk-test")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if opts.WillTopic != "pgdesk/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("Will retained=%v qos=%d, want true/1", opts.WillRetained, opts.WillQos)
	}
	if !strings.Contains(string(opts.WillPayload), "unexpected_disconnect") {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var got map[string]string
	if err := json.Unmarshal([]byte(buildStatusPayload("offline", "pg", "graceful_shutdown")), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["status"] != "offline" || got["client_id"] != "pg" || got["reason"] != "graceful_shutdown" {
		t.Errorf("payload = %v", got)
	}
	if got["timestamp"] == "" {
		t.Error("payload has no timestamp")
	}

	got = nil
	if err := json.Unmarshal([]byte(buildStatusPayload("online", "pg", "")), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if _, ok := got["reason"]; ok {
		t.Error("online payload should not carry a reason")
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 0, ErrInvalidTopic},
		{"invalid qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"too large", "a/b", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
		{"not connected", "a/b", []byte("x"), 0, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_ZeroValue(t *testing.T) {
	c := &Client{}

	if c.IsConnected() {
		t.Error("IsConnected() = true for unconnected client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}
