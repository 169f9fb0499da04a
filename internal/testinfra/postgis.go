//go:build integration

// Package testinfra starts throwaway PostGIS instances for integration tests.
package testinfra

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	DefaultPostGISImage = "postgis/postgis:16-3.4"
	postgresPort        = "5432/tcp"
)

// SkipIfNoDocker skips the test when the Docker daemon is unreachable.
func SkipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("skipping integration test: Docker not available")
	}
}

// PostGIS is a running PostGIS container.
type PostGIS struct {
	testcontainers.Container
	DSN string
}

// StartPostGIS starts a container and terminates it when the test ends.
func StartPostGIS(t *testing.T) *PostGIS {
	t.Helper()
	SkipIfNoDocker(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        DefaultPostGISImage,
		ExposedPorts: []string{postgresPort},
		Env: map[string]string{
			"POSTGRES_USER":     "etl",
			"POSTGRES_PASSWORD": "etl",
			"POSTGRES_DB":       "gis",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(postgresPort),
			// the entrypoint restarts the server once after init scripts
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, postgresPort)
	if err != nil {
		t.Fatalf("get mapped port: %v", err)
	}

	return &PostGIS{
		Container: container,
		DSN:       fmt.Sprintf("postgres://etl:etl@%s:%s/gis?sslmode=disable", host, port.Port()),
	}
}
