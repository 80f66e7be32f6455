package orchestrator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/shardlab/shardctl/common/topology"
)

type Binaries struct {
	Server string
	Router string
	Admin  string
}

var DefaultBinaries = Binaries{
	Server: "mongod",
	Router: "mongos",
	Admin:  "mongo",
}

func (b Binaries) withDefaults() Binaries {
	if b.Server == "" {
		b.Server = DefaultBinaries.Server
	}
	if b.Router == "" {
		b.Router = DefaultBinaries.Router
	}
	if b.Admin == "" {
		b.Admin = DefaultBinaries.Admin
	}
	return b
}

// launchArgs builds the command line that forks the node's server process.
func launchArgs(bins Binaries, spec topology.NodeSpec) []string {
	port := strconv.Itoa(spec.Port)

	if spec.Role == topology.RoleRouter {
		return []string{
			bins.Router,
			"--configdb", spec.ConfigDB,
			"--port", port,
			"--logpath", spec.LogFile,
			"--fork",
		}
	}

	return []string{
		bins.Server,
		"--" + string(spec.Role),
		"--port", port,
		"--replSet", spec.ReplicaSet,
		"--dbpath", spec.DataDir,
		"--logpath", spec.LogFile,
		"--fork",
	}
}

func evalArgs(bins Binaries, port int, js string) []string {
	return []string{bins.Admin, "--port", strconv.Itoa(port), "--eval", js}
}

func initiateJS() string {
	return "rs.initiate()"
}

func addMemberJS(addr string) string {
	return fmt.Sprintf("rs.add(%q)", addr)
}

func isMasterJS() string {
	return "db.isMaster()"
}

func dirExistsArgs(dir string) []string {
	return []string{"test", "-d", dir}
}

func mkdirArgs(dir string) []string {
	return []string{"mkdir", "-p", dir}
}

func writePidArgs(pidFile string, pid int) []string {
	return []string{"sh", "-c", fmt.Sprintf("printf '%%d' %d > %s", pid, shellescape.Quote(pidFile))}
}

func readPidArgs(pidFile string) []string {
	return []string{"cat", pidFile}
}

func killArgs(pid int) []string {
	return []string{"kill", strconv.Itoa(pid)}
}

func removeArgs(dirs []string) []string {
	return append([]string{"rm", "-rf"}, dirs...)
}

func describeFailure(stderr string, exitCode int) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Sprintf("exit code %d", exitCode)
	}
	return fmt.Sprintf("exit code %d: %s", exitCode, stderr)
}
