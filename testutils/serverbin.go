package testutils

import (
	"bufio"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

type ServerBinaries struct {
	Server string
	Router string
	Admin  string
}

// SkipIfNoServerBinaries skips the test unless SHARDCTL_TEST_BINDIR points
// at a directory containing mongod, mongos and mongo.
func SkipIfNoServerBinaries(t *testing.T) ServerBinaries {
	cfg := GetTestConfig(t)
	if cfg.BinDir == "" {
		t.Skip("skipping due to no server binaries directory")
	}

	bins := ServerBinaries{
		Server: filepath.Join(cfg.BinDir, "mongod"),
		Router: filepath.Join(cfg.BinDir, "mongos"),
		Admin:  filepath.Join(cfg.BinDir, "mongo"),
	}

	for _, path := range []string{bins.Server, bins.Router, bins.Admin} {
		if _, err := os.Stat(path); err != nil {
			t.Skipf("skipping due to missing server binary: %s", err)
		}
	}

	return bins
}

// RunTool runs a binary, copying its output to the test log while also
// collecting stdout for the caller.
func RunTool(path string, args []string) (string, error) {
	cmd := exec.Command(path, args...)
	log.Printf("running command: %s ", strings.Join(cmd.Args, " "))
	log.Printf("---")

	stdOut, _ := cmd.StdoutPipe()
	stdErr, _ := cmd.StderrPipe()

	pipeRdr, pipeWrt := io.Pipe()
	teeRdr := io.TeeReader(stdOut, pipeWrt)

	pipeBufRdr := bufio.NewReader(pipeRdr)
	var output string
	outputWaitCh := make(chan struct{}, 1)
	go func() {
		for {
			line, _, err := pipeBufRdr.ReadLine()
			if err != nil {
				break
			}

			if output != "" {
				output += "\n"
			}
			output += string(line)
		}

		outputWaitCh <- struct{}{}
	}()

	go func() {
		_, _ = io.Copy(os.Stdout, teeRdr)
		_ = pipeWrt.Close()
	}()

	errWaitCh := make(chan struct{}, 1)
	go func() {
		_, _ = io.Copy(os.Stdout, stdErr)
		errWaitCh <- struct{}{}
	}()

	err := cmd.Run()

	<-outputWaitCh
	<-errWaitCh

	log.Printf("---")

	return output, err
}
