package manifest

import (
	"context"
	"fmt"

	etcd "go.etcd.io/etcd/client/v3"
	"gopkg.in/yaml.v3"

	"github.com/shardlab/shardctl/common/topology"
)

type EtcdStoreOptions struct {
	EtcdClient *etcd.Client
	KeyPrefix  string
}

// EtcdStore keeps the manifest under <KeyPrefix>/manifest so operators on
// different machines share it.
type EtcdStore struct {
	etcdClient *etcd.Client
	key        string
}

var _ Store = (*EtcdStore)(nil)

func NewEtcdStore(opts EtcdStoreOptions) *EtcdStore {
	return &EtcdStore{
		etcdClient: opts.EtcdClient,
		key:        opts.KeyPrefix + "/manifest",
	}
}

func (s *EtcdStore) Save(ctx context.Context, topo *topology.Topology) error {
	data, err := yaml.Marshal(topo)
	if err != nil {
		return err
	}

	_, err = s.etcdClient.Put(ctx, s.key, string(data))
	return err
}

func (s *EtcdStore) Load(ctx context.Context) (*topology.Topology, error) {
	resp, err := s.etcdClient.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}

	var topo topology.Topology
	err = yaml.Unmarshal(resp.Kvs[0].Value, &topo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest at %s: %w", s.key, err)
	}

	err = topo.Validate()
	if err != nil {
		return nil, err
	}

	return &topo, nil
}

func (s *EtcdStore) Delete(ctx context.Context) error {
	_, err := s.etcdClient.Delete(ctx, s.key)
	return err
}
