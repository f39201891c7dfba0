// Package container starts throwaway infrastructure for integration tests.
package container

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// MongoContainer is a single-node mongo replica set. Transactions require a
// replica set even with one member.
type MongoContainer struct {
	URI string

	container *mongodb.MongoDBContainer
}

// StartMongo runs a mongo container and waits until it accepts connections.
func StartMongo(ctx context.Context) (*MongoContainer, error) {
	c, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	if err != nil {
		return nil, fmt.Errorf("failed to start mongo container: %w", err)
	}

	uri, err := c.ConnectionString(ctx)
	if err != nil {
		terminateErr := testcontainers.TerminateContainer(c)
		if terminateErr != nil {
			return nil, fmt.Errorf("failed to get connection string: %w (terminate: %v)", err, terminateErr)
		}
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &MongoContainer{URI: uri, container: c}, nil
}

// Terminate stops and removes the container.
func (m *MongoContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(m.container)
}
