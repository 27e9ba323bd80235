package tcredis

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mpapenbr/livetiming-gateway-go/testsupport/tccontainer"
)

// SetupRedis returns a client for an empty redis database.
// TESTREDIS_URL points to an external server, otherwise a container is used.
func SetupRedis() *redis.Client {
	url := os.Getenv("TESTREDIS_URL")
	if url == "" {
		url = startContainer()
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Fatal(err)
	}
	client := redis.NewClient(opts)
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		log.Fatal(err)
	}
	return client
}

func startContainer() string {
	ctx := context.Background()
	port, err := nat.NewPort("tcp", "6379")
	if err != nil {
		log.Fatal(err)
	}
	container, err := tccontainer.Setup(ctx, "redis:7",
		tccontainer.WithPort(string(port)),
		tccontainer.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(10*time.Second)),
		tccontainer.WithName("livetiming-gateway-test-redis"),
	)
	if err != nil {
		log.Fatal(err)
	}
	containerPort, _ := container.MappedPort(ctx, port)
	host, _ := container.Host(ctx)
	return fmt.Sprintf("redis://%s:%s/0", host, containerPort.Port())
}
