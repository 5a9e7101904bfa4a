// Package etcdtest runs an `etcd` server for the tests of a package, when an
// `etcd` binary is available on the PATH. Each test is handed its own key
// prefix, which is removed when the test completes.
package etcdtest

import (
	"context"
	"log"
	"os"
	"os/exec"
	"path"
	"strings"
	"syscall"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

var client *clientv3.Client

// Client returns a client of the test server and a clean key prefix which
// is private to |t|. The test is skipped if no server is running.
func Client(t testing.TB) (*clientv3.Client, string) {
	if client == nil {
		t.Skip("etcd binary not available")
	}
	var prefix = path.Join("/etcdtest", strings.ReplaceAll(t.Name(), "/", "-"))

	var ctx = context.Background()
	if resp, err := client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithCountOnly()); err != nil {
		t.Fatal(err)
	} else if resp.Count != 0 {
		t.Fatalf("prefix %s is not empty (%d keys)", prefix, resp.Count)
	}
	t.Cleanup(func() {
		if _, err := client.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
			t.Error(err)
		}
	})
	return client, prefix
}

// Main runs the tests of |m|, under a started `etcd` server if one is on the
// PATH. Packages use it as:
//
//	func TestMain(m *testing.M) { etcdtest.Main(m) }
func Main(m *testing.M) {
	var bin, err = exec.LookPath("etcd")
	if err != nil {
		log.Println("etcd not found on PATH; tests requiring etcd will skip")
		os.Exit(m.Run())
	}
	stop, err := start(bin)
	if err != nil {
		log.Fatal(err)
	}
	var code = m.Run()
	stop()
	os.Exit(code)
}

func start(bin string) (stop func(), err error) {
	var dir string
	if dir, err = os.MkdirTemp("", "etcdtest"); err != nil {
		return nil, err
	}
	var cmd = exec.Command(bin,
		"--data-dir", path.Join(dir, "data"),
		"--listen-peer-urls", "unix://peer.sock:0",
		"--listen-client-urls", "unix://client.sock:0",
		"--advertise-client-urls", "unix://client.sock:0",
	)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "ETCD_LOG_LEVEL=error", "ETCD_LOGGER=zap")
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	cmd.SysProcAttr = new(syscall.SysProcAttr)
	setParentDeathSignal(cmd.SysProcAttr)

	if err = cmd.Start(); err != nil {
		return nil, err
	}
	stop = func() {
		if client != nil {
			_ = client.Close()
		}
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			log.Println("failed to TERM etcd: ", err)
		}
		_ = cmd.Wait()
		_ = os.RemoveAll(dir)
	}

	if client, err = clientv3.New(clientv3.Config{
		Endpoints:   []string{"unix://" + dir + "/client.sock:0"},
		DialTimeout: 5 * time.Second,
	}); err == nil {
		var ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err = client.Get(ctx, "/etcdtest", clientv3.WithPrefix(), clientv3.WithCountOnly())
	}
	if err != nil {
		stop()
		return nil, err
	}
	return stop, nil
}
