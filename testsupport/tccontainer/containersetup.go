package tccontainer

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Container represents a generic service container used by integration tests
type Container struct {
	testcontainers.Container
}

type ContainerOption func(req *testcontainers.ContainerRequest)

func WithWaitStrategy(strategies ...wait.Strategy) ContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.WaitingFor = wait.ForAll(strategies...).WithDeadline(1 * time.Minute)
	}
}

func WithPort(port string) ContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.ExposedPorts = append(req.ExposedPorts, port)
	}
}

func WithName(containerName string) ContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.Name = containerName
	}
}

func WithCmd(cmd ...string) ContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.Cmd = cmd
	}
}

func WithEnv(key, value string) ContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.Env[key] = value
	}
}

// Setup creates and starts a container of the given image.
// Containers are reused across test packages when a name is set.
func Setup(ctx context.Context, image string, opts ...ContainerOption) (
	*Container, error,
) {
	req := testcontainers.ContainerRequest{
		Image:        image,
		Env:          map[string]string{},
		ExposedPorts: []string{},
	}

	for _, opt := range opts {
		opt(&req)
	}

	container, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
			Reuse:            req.Name != "",
		})
	if err != nil {
		return nil, err
	}

	return &Container{Container: container}, nil
}
