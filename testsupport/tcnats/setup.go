package tcnats

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mpapenbr/livetiming-gateway-go/testsupport/tccontainer"
)

// SetupNats returns a connection to a NATS server with JetStream enabled.
// TESTNATS_URL points to an external server, otherwise a container is used.
func SetupNats() *nats.Conn {
	url := os.Getenv("TESTNATS_URL")
	if url == "" {
		url = startContainer()
	}
	conn, err := nats.Connect(url, nats.Timeout(5*time.Second))
	if err != nil {
		log.Fatal(err)
	}
	return conn
}

func startContainer() string {
	ctx := context.Background()
	port, err := nat.NewPort("tcp", "4222")
	if err != nil {
		log.Fatal(err)
	}
	container, err := tccontainer.Setup(ctx, "nats:2.10",
		tccontainer.WithPort(string(port)),
		tccontainer.WithCmd("-js"),
		tccontainer.WithWaitStrategy(
			wait.ForLog("Server is ready").
				WithStartupTimeout(10*time.Second)),
		tccontainer.WithName("livetiming-gateway-test-nats"),
	)
	if err != nil {
		log.Fatal(err)
	}
	containerPort, _ := container.MappedPort(ctx, port)
	host, _ := container.Host(ctx)
	return fmt.Sprintf("nats://%s:%s", host, containerPort.Port())
}
