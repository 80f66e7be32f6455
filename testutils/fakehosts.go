package testutils

import (
	"context"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/shardlab/shardctl/pkg/remoteexec"
)

type ExecCall struct {
	Host string
	User string
	Argv []string
}

func (c ExecCall) Command() string {
	return strings.Join(c.Argv, " ")
}

// Flag returns the value following name in the argv, "" if absent.
func (c ExecCall) Flag(name string) string {
	for i := 0; i+1 < len(c.Argv); i++ {
		if c.Argv[i] == name {
			return c.Argv[i+1]
		}
	}
	return ""
}

func (c ExecCall) HasFlag(name string) bool {
	for _, arg := range c.Argv {
		if arg == name {
			return true
		}
	}
	return false
}

func (c ExecCall) IsLaunch() bool {
	return c.HasFlag("--fork")
}

func (c ExecCall) IsEval() bool {
	return c.HasFlag("--eval")
}

// EvalResponder answers an admin shell --eval.  Returning handled=false
// falls back to the default {"ok": 1} answer.
type EvalResponder func(call ExecCall) (stdout string, exitCode int, handled bool)

// FakeHosts simulates the hosts a cluster is deployed on.  It understands
// the small set of commands the orchestrator issues and keeps an in-memory
// record of directories, files and forked processes per host.
type FakeHosts struct {
	lock sync.Mutex

	calls     []ExecCall
	dirs      map[string]bool
	files     map[string]string
	procs     map[int]string
	listening map[string]int
	bound     map[string]bool
	nextPid   int

	unreachable map[string]bool
	failLaunch  map[string]string
	failKill    bool
	failClean   bool
	responder   EvalResponder
}

var _ remoteexec.Executor = (*FakeHosts)(nil)

func NewFakeHosts() *FakeHosts {
	return &FakeHosts{
		dirs:        make(map[string]bool),
		files:       make(map[string]string),
		procs:       make(map[int]string),
		listening:   make(map[string]int),
		bound:       make(map[string]bool),
		nextPid:     4200,
		unreachable: make(map[string]bool),
		failLaunch:  make(map[string]string),
	}
}

func hostKey(host, p string) string {
	return host + ":" + p
}

func addrKey(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// BindPort makes a port look occupied by something outside the cluster.
func (f *FakeHosts) BindPort(host string, port int) {
	f.lock.Lock()
	f.bound[addrKey(host, port)] = true
	f.lock.Unlock()
}

func (f *FakeHosts) SetUnreachable(host string) {
	f.lock.Lock()
	f.unreachable[host] = true
	f.lock.Unlock()
}

// FailLaunch makes launching a server on host:port exit non-zero.
func (f *FakeHosts) FailLaunch(host string, port int, stderr string) {
	f.lock.Lock()
	f.failLaunch[addrKey(host, port)] = stderr
	f.lock.Unlock()
}

func (f *FakeHosts) FailKill() {
	f.lock.Lock()
	f.failKill = true
	f.lock.Unlock()
}

func (f *FakeHosts) FailClean() {
	f.lock.Lock()
	f.failClean = true
	f.lock.Unlock()
}

func (f *FakeHosts) SetEvalResponder(responder EvalResponder) {
	f.lock.Lock()
	f.responder = responder
	f.lock.Unlock()
}

func (f *FakeHosts) MakeDir(host, dir string) {
	f.lock.Lock()
	f.dirs[hostKey(host, dir)] = true
	f.lock.Unlock()
}

func (f *FakeHosts) DirExists(host, dir string) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.dirs[hostKey(host, dir)]
}

func (f *FakeHosts) FileContent(host, file string) (string, bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	content, ok := f.files[hostKey(host, file)]
	return content, ok
}

func (f *FakeHosts) RemoveFile(host, file string) {
	f.lock.Lock()
	delete(f.files, hostKey(host, file))
	f.lock.Unlock()
}

// RunningPids lists the pids of the processes still alive.
func (f *FakeHosts) RunningPids() map[int]string {
	f.lock.Lock()
	defer f.lock.Unlock()

	out := make(map[int]string, len(f.procs))
	for pid, addr := range f.procs {
		out[pid] = addr
	}
	return out
}

func (f *FakeHosts) Calls() []ExecCall {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]ExecCall(nil), f.calls...)
}

func (f *FakeHosts) CallsMatching(pred func(ExecCall) bool) []ExecCall {
	var out []ExecCall
	for _, call := range f.Calls() {
		if pred(call) {
			out = append(out, call)
		}
	}
	return out
}

func (f *FakeHosts) LaunchCalls() []ExecCall {
	return f.CallsMatching(ExecCall.IsLaunch)
}

func (f *FakeHosts) EvalCalls() []ExecCall {
	return f.CallsMatching(ExecCall.IsEval)
}

func (f *FakeHosts) ResetCalls() {
	f.lock.Lock()
	f.calls = nil
	f.lock.Unlock()
}

// IsPortOpen reports ports held by simulated processes or bound with
// BindPort.
func (f *FakeHosts) IsPortOpen(ctx context.Context, host string, port int) bool {
	f.lock.Lock()
	defer f.lock.Unlock()

	addr := addrKey(host, port)
	_, listening := f.listening[addr]
	return listening || f.bound[addr]
}

func (f *FakeHosts) Execute(ctx context.Context, host, user string, argv []string) (*remoteexec.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	call := ExecCall{Host: host, User: user, Argv: append([]string(nil), argv...)}

	f.lock.Lock()
	f.calls = append(f.calls, call)
	if f.unreachable[host] {
		f.lock.Unlock()
		return nil, fmt.Errorf("%w: %s", remoteexec.ErrRemoteUnreachable, host)
	}
	responder := f.responder
	f.lock.Unlock()

	if call.IsEval() {
		if responder != nil {
			stdout, code, handled := responder(call)
			if handled {
				return &remoteexec.Result{Stdout: stdout, ExitCode: code}, nil
			}
		}
		return &remoteexec.Result{Stdout: DefaultEvalOutput(call)}, nil
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	if call.IsLaunch() {
		return f.launch(call), nil
	}

	switch argv[0] {
	case "test":
		if len(argv) == 3 && argv[1] == "-d" && f.dirs[hostKey(host, argv[2])] {
			return &remoteexec.Result{}, nil
		}
		return &remoteexec.Result{ExitCode: 1}, nil

	case "mkdir":
		for _, dir := range argv[1:] {
			if strings.HasPrefix(dir, "-") {
				continue
			}
			for d := dir; d != "/" && d != "."; d = path.Dir(d) {
				f.dirs[hostKey(host, d)] = true
			}
		}
		return &remoteexec.Result{}, nil

	case "rm":
		if f.failClean {
			return &remoteexec.Result{Stderr: "rm: permission denied", ExitCode: 1}, nil
		}
		for _, dir := range argv[1:] {
			if strings.HasPrefix(dir, "-") {
				continue
			}
			f.removeTree(host, dir)
		}
		return &remoteexec.Result{}, nil

	case "sh":
		return f.shell(host, argv), nil

	case "cat":
		content, ok := f.files[hostKey(host, argv[1])]
		if !ok {
			return &remoteexec.Result{
				Stderr:   fmt.Sprintf("cat: %s: No such file or directory", argv[1]),
				ExitCode: 1,
			}, nil
		}
		return &remoteexec.Result{Stdout: content}, nil

	case "kill":
		pid, _ := strconv.Atoi(argv[len(argv)-1])
		addr, ok := f.procs[pid]
		if f.failKill || !ok {
			return &remoteexec.Result{
				Stderr:   fmt.Sprintf("kill: (%d) - No such process", pid),
				ExitCode: 1,
			}, nil
		}
		delete(f.procs, pid)
		delete(f.listening, addr)
		return &remoteexec.Result{}, nil
	}

	return &remoteexec.Result{
		Stderr:   fmt.Sprintf("%s: command not found", argv[0]),
		ExitCode: 127,
	}, nil
}

func (f *FakeHosts) launch(call ExecCall) *remoteexec.Result {
	port, _ := strconv.Atoi(call.Flag("--port"))
	addr := addrKey(call.Host, port)

	if stderr, ok := f.failLaunch[addr]; ok {
		return &remoteexec.Result{Stderr: stderr, ExitCode: 1}
	}

	_, inUse := f.listening[addr]
	logDir := path.Dir(call.Flag("--logpath"))
	dbPath := call.Flag("--dbpath")
	if inUse || f.bound[addr] || !f.dirs[hostKey(call.Host, logDir)] ||
		(dbPath != "" && !f.dirs[hostKey(call.Host, dbPath)]) {
		return &remoteexec.Result{
			Stdout: "about to fork child process, waiting until server is ready for connections.\n" +
				"ERROR: child process failed, exited with error number 48\n",
			ExitCode: 1,
		}
	}

	f.nextPid++
	pid := f.nextPid
	f.procs[pid] = addr
	f.listening[addr] = pid

	return &remoteexec.Result{
		Stdout: "about to fork child process, waiting until server is ready for connections.\n" +
			fmt.Sprintf("forked process: %d\n", pid) +
			"child process started successfully, parent exiting\n",
	}
}

// shell handles `sh -c "printf '%d' PID > FILE"`.
func (f *FakeHosts) shell(host string, argv []string) *remoteexec.Result {
	if len(argv) != 3 || argv[1] != "-c" {
		return &remoteexec.Result{Stderr: "sh: unsupported invocation", ExitCode: 2}
	}

	script, target, ok := strings.Cut(argv[2], ">")
	fields := strings.Fields(script)
	if !ok || len(fields) != 3 || fields[0] != "printf" {
		return &remoteexec.Result{Stderr: "sh: unsupported script", ExitCode: 2}
	}

	file := strings.Trim(strings.TrimSpace(target), "'")
	if !f.dirs[hostKey(host, path.Dir(file))] {
		return &remoteexec.Result{
			Stderr:   fmt.Sprintf("sh: 1: cannot create %s: Directory nonexistent", file),
			ExitCode: 2,
		}
	}

	f.files[hostKey(host, file)] = fields[2]
	return &remoteexec.Result{}
}

func (f *FakeHosts) removeTree(host, dir string) {
	prefix := hostKey(host, dir)
	for key := range f.dirs {
		if key == prefix || strings.HasPrefix(key, prefix+"/") {
			delete(f.dirs, key)
		}
	}
	for key := range f.files {
		if strings.HasPrefix(key, prefix+"/") {
			delete(f.files, key)
		}
	}
}

// DefaultEvalOutput is what a healthy admin shell prints for the commands
// the orchestrator sends.
func DefaultEvalOutput(call ExecCall) string {
	banner := "MongoDB shell version: 3.4.24\n" +
		fmt.Sprintf("connecting to: mongodb://127.0.0.1:%s/\n", call.Flag("--port"))

	if strings.Contains(call.Flag("--eval"), "isMaster") {
		return banner + "{\n\t\"ismaster\" : true,\n\t\"secondary\" : false,\n\t\"ok\" : 1\n}\n"
	}

	return banner + "{\n\t\"ok\" : 1,\n\t\"operationTime\" : Timestamp(1557849402, 1)\n}\n"
}

// EvalOutput renders a document as the admin shell would print it.
func EvalOutput(port int, body string) string {
	return "MongoDB shell version: 3.4.24\n" +
		fmt.Sprintf("connecting to: mongodb://127.0.0.1:%d/\n", port) +
		body + "\n"
}
