package topology

import (
	"fmt"
	"path/filepath"
	"strconv"

	"dario.cat/mergo"

	"github.com/shardlab/shardctl/utils/netutils"
)

type Options struct {
	Name string

	ReplicaFactor int
	ScaleFactor   int
	RoutersFactor int

	// Hosts receive nodes round-robin within each role.
	Hosts   []string
	User    string
	BaseDir string

	ConfigBasePort int
	ShardBasePort  int
	RouterBasePort int
}

// factors are deliberately absent, a zero scale or routers factor is valid
func placementDefaults() Options {
	return Options{
		Name:           "shardctl",
		Hosts:          []string{netutils.LocalHostname()},
		BaseDir:        "/tmp/shardctl",
		ConfigBasePort: 27100,
		ShardBasePort:  27200,
		RouterBasePort: 27300,
	}
}

type allocator struct {
	opts    Options
	nodeSeq map[Role]int
	setSeq  map[Role]int
}

func (a *allocator) nextNode(role Role) int {
	seq := a.nodeSeq[role]
	a.nodeSeq[role] = seq + 1
	return seq
}

func (a *allocator) nextSet(role Role) int {
	seq := a.setSeq[role]
	a.setSeq[role] = seq + 1
	return seq
}

func (a *allocator) basePort(role Role) int {
	switch role {
	case RoleConfig:
		return a.opts.ConfigBasePort
	case RoleShard:
		return a.opts.ShardBasePort
	default:
		return a.opts.RouterBasePort
	}
}

func (a *allocator) newNode(role Role, replicaSet string) NodeSpec {
	seq := a.nextNode(role)
	dir := filepath.Join(a.opts.BaseDir, role.dirName(), strconv.Itoa(seq))

	node := NodeSpec{
		Role:       role,
		Sequence:   seq,
		Host:       a.opts.Hosts[seq%len(a.opts.Hosts)],
		Port:       a.basePort(role) + seq,
		LogDir:     filepath.Join(dir, "log"),
		PidDir:     filepath.Join(dir, "pid"),
		ReplicaSet: replicaSet,
	}
	node.LogFile = filepath.Join(node.LogDir, string(role)+".log")
	node.PidFile = filepath.Join(node.PidDir, string(role)+".pid")

	if role.IsMember() {
		node.DataDir = filepath.Join(dir, "db")
	}

	return node
}

func (a *allocator) newReplicaSet(role Role) ReplicaSetSpec {
	set := ReplicaSetSpec{
		Name: fmt.Sprintf("%s%d", role.setPrefix(), a.nextSet(role)),
		Role: role,
	}

	for i := 0; i < a.opts.ReplicaFactor; i++ {
		set.Members = append(set.Members, a.newNode(role, set.Name))
	}

	return set
}

type portRange struct {
	role       Role
	start, end int
}

func checkPortRanges(ranges []portRange) error {
	for i, r := range ranges {
		if r.start == r.end {
			continue
		}
		if r.start <= 0 || r.end-1 > 65535 {
			return fmt.Errorf("%w: %s ports %d-%d", ErrPortOutOfRange, r.role, r.start, r.end-1)
		}

		for _, o := range ranges[i+1:] {
			if o.start == o.end {
				continue
			}
			if r.start < o.end && o.start < r.end {
				return fmt.Errorf("%w: %s %d-%d and %s %d-%d",
					ErrPortRangeOverlap, r.role, r.start, r.end-1, o.role, o.start, o.end-1)
			}
		}
	}

	return nil
}

// Build allocates every node of a topology.  Sequence counters are scoped
// to the call, so two topologies never share them.
func Build(opts Options) (*Topology, error) {
	if opts.ReplicaFactor < 1 {
		return nil, fmt.Errorf("%w: replica factor must be at least 1, got %d", ErrInvalidFactor, opts.ReplicaFactor)
	}
	if opts.ScaleFactor < 0 {
		return nil, fmt.Errorf("%w: scale factor must not be negative, got %d", ErrInvalidFactor, opts.ScaleFactor)
	}
	if opts.RoutersFactor < 0 {
		return nil, fmt.Errorf("%w: routers factor must not be negative, got %d", ErrInvalidFactor, opts.RoutersFactor)
	}

	err := mergo.Merge(&opts, placementDefaults())
	if err != nil {
		return nil, err
	}

	err = checkPortRanges([]portRange{
		{RoleConfig, opts.ConfigBasePort, opts.ConfigBasePort + opts.ReplicaFactor},
		{RoleShard, opts.ShardBasePort, opts.ShardBasePort + opts.ReplicaFactor*opts.ScaleFactor},
		{RoleRouter, opts.RouterBasePort, opts.RouterBasePort + opts.RoutersFactor},
	})
	if err != nil {
		return nil, err
	}

	a := &allocator{
		opts:    opts,
		nodeSeq: make(map[Role]int),
		setSeq:  make(map[Role]int),
	}

	t := &Topology{
		Name:    opts.Name,
		User:    opts.User,
		BaseDir: opts.BaseDir,
	}

	t.ConfigSet = a.newReplicaSet(RoleConfig)
	t.ConnectionString = t.ConfigSet.ConnectionString()

	for i := 0; i < opts.ScaleFactor; i++ {
		t.DataSets = append(t.DataSets, a.newReplicaSet(RoleShard))
	}

	for i := 0; i < opts.RoutersFactor; i++ {
		router := a.newNode(RoleRouter, "")
		router.ConfigDB = t.ConnectionString
		t.Routers = append(t.Routers, router)
	}

	err = t.Validate()
	if err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks that every node has its own host and port.
func (t *Topology) Validate() error {
	seen := make(map[string]string)
	for _, node := range t.Nodes() {
		addr := node.Address()
		if other, ok := seen[addr]; ok {
			return fmt.Errorf("%w: %s used by %s and %s", ErrDuplicateAddress, addr, other, node.Name())
		}
		seen[addr] = node.Name()
	}

	return nil
}
