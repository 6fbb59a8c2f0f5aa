//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const mosquittoConf = "listener 1883\nallow_anonymous true\n"

// MosquittoContainer is a running anonymous Mosquitto broker.
type MosquittoContainer struct {
	container testcontainers.Container
	brokerURL string
}

// NewMosquittoContainer starts an eclipse-mosquitto 2.0 broker that accepts
// anonymous clients.
func NewMosquittoContainer(ctx context.Context, t *testing.T) (*MosquittoContainer, error) {
	t.Helper()
	confPath := filepath.Join(t.TempDir(), "mosquitto.conf")
	if err := os.WriteFile(confPath, []byte(mosquittoConf), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write mosquitto config: %w", err)
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:2.0",
			ExposedPorts: []string{"1883/tcp"},
			Cmd:          []string{"mosquitto", "-c", "/mosquitto/config/test.conf"},
			Files: []testcontainers.ContainerFile{{
				HostFilePath:      confPath,
				ContainerFilePath: "/mosquitto/config/test.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForListeningPort("1883/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Mosquitto container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "1883")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return &MosquittoContainer{
		container: container,
		brokerURL: "tcp://" + net.JoinHostPort(host, strconv.Itoa(port.Int())),
	}, nil
}

// BrokerURL returns the broker address, e.g. tcp://localhost:32781.
func (c *MosquittoContainer) BrokerURL() string {
	return c.brokerURL
}

// Subscribe connects a client subscribed to topic and returns the channel
// its payloads arrive on. The client disconnects at test cleanup.
func (c *MosquittoContainer) Subscribe(t *testing.T, topic string) <-chan []byte {
	t.Helper()
	opts := mqtt.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID("subscriber-" + strconv.FormatInt(time.Now().UnixNano(), 36)).
		SetConnectTimeout(5 * time.Second)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		t.Fatalf("failed to connect subscriber: %v", token.Error())
	}
	t.Cleanup(func() { client.Disconnect(250) })

	messages := make(chan []byte, 16)
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		messages <- msg.Payload()
	})
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		t.Fatalf("failed to subscribe to %s: %v", topic, token.Error())
	}
	return messages
}

// Terminate removes the container.
func (c *MosquittoContainer) Terminate() error {
	return testcontainers.TerminateContainer(c.container)
}
