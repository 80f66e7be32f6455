package topology

import (
	"fmt"
	"strconv"
	"strings"
)

type Role string

const (
	RoleConfig Role = "configsvr"
	RoleShard  Role = "shardsvr"
	RoleRouter Role = "router"
)

// dirName is the directory under the base dir holding nodes of the role.
func (r Role) dirName() string {
	switch r {
	case RoleConfig:
		return "config"
	case RoleShard:
		return "data"
	default:
		return "router"
	}
}

// setPrefix names the replica sets made of nodes with this role.
func (r Role) setPrefix() string {
	switch r {
	case RoleConfig:
		return "config"
	default:
		return "shard"
	}
}

func (r Role) IsMember() bool {
	return r == RoleConfig || r == RoleShard
}

// NodeSpec fully describes one server process.  It is allocated by Build
// and never changes afterwards.
type NodeSpec struct {
	Role     Role   `json:"role" yaml:"role"`
	Sequence int    `json:"sequence" yaml:"sequence"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`

	DataDir string `json:"dataDir,omitempty" yaml:"data_dir,omitempty"`
	LogDir  string `json:"logDir" yaml:"log_dir"`
	PidDir  string `json:"pidDir" yaml:"pid_dir"`
	LogFile string `json:"logFile" yaml:"log_file"`
	PidFile string `json:"pidFile" yaml:"pid_file"`

	// ReplicaSet is empty for routers.
	ReplicaSet string `json:"replicaSet,omitempty" yaml:"replica_set,omitempty"`
	// ConfigDB is only set for routers.
	ConfigDB string `json:"configDb,omitempty" yaml:"config_db,omitempty"`
}

func (n NodeSpec) Address() string {
	return n.Host + ":" + strconv.Itoa(n.Port)
}

func (n NodeSpec) Name() string {
	return fmt.Sprintf("%s%d", n.Role, n.Sequence)
}

// Dirs lists the directories owned by the node.
func (n NodeSpec) Dirs() []string {
	var dirs []string
	if n.DataDir != "" {
		dirs = append(dirs, n.DataDir)
	}
	return append(dirs, n.LogDir, n.PidDir)
}

type ReplicaSetSpec struct {
	Name    string     `json:"name" yaml:"name"`
	Role    Role       `json:"role" yaml:"role"`
	Members []NodeSpec `json:"members" yaml:"members"`
}

// ConnectionString formats the set as <name>/<host1>:<port1>,<host2>:<port2>
// in member order.
func (s ReplicaSetSpec) ConnectionString() string {
	addrs := make([]string, len(s.Members))
	for i, member := range s.Members {
		addrs[i] = member.Address()
	}

	return s.Name + "/" + strings.Join(addrs, ",")
}

type Topology struct {
	Name    string `json:"name" yaml:"name"`
	User    string `json:"user,omitempty" yaml:"user,omitempty"`
	BaseDir string `json:"baseDir" yaml:"base_dir"`

	ConfigSet ReplicaSetSpec   `json:"configSet" yaml:"config_set"`
	DataSets  []ReplicaSetSpec `json:"dataSets" yaml:"data_sets"`
	Routers   []NodeSpec       `json:"routers" yaml:"routers"`

	// ConnectionString of the config set, handed to every router.
	ConnectionString string `json:"connectionString" yaml:"connection_string"`
}

// Nodes returns every node in topology order: config members, data set
// members, routers.
func (t *Topology) Nodes() []NodeSpec {
	nodes := append([]NodeSpec(nil), t.ConfigSet.Members...)
	for _, set := range t.DataSets {
		nodes = append(nodes, set.Members...)
	}
	return append(nodes, t.Routers...)
}
