// Package manifest persists built topologies so later invocations address
// the same nodes as the one that initialized them.
package manifest

import (
	"context"
	"errors"

	"github.com/shardlab/shardctl/common/topology"
)

var ErrNotFound = errors.New("manifest not found")

type Store interface {
	Save(ctx context.Context, topo *topology.Topology) error
	Load(ctx context.Context) (*topology.Topology, error)
	Delete(ctx context.Context) error
}
