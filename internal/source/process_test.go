package source

import (
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startCmd(t *testing.T, name string, args ...string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(name, args...)
	require.NoError(t, cmd.Start())
	return cmd
}

func waitExit(t *testing.T, h Handle) Exit {
	t.Helper()
	select {
	case exit, ok := <-h.Done():
		require.True(t, ok, "exit delivered once before close")
		return exit
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process exit")
		return Exit{}
	}
}

func TestProcess_CleanExit(t *testing.T) {
	p := Watch(time.Second, startCmd(t, "true"))

	exit := waitExit(t, p)
	assert.False(t, exit.Signaled())
	assert.False(t, exit.Abnormal())
	assert.Equal(t, 0, exit.Code)

	_, open := <-p.Done()
	assert.False(t, open)
}

func TestProcess_AbnormalExit(t *testing.T) {
	p := Watch(time.Second, startCmd(t, "sh", "-c", "echo broken >&2; exit 3"))

	exit := waitExit(t, p)
	assert.True(t, exit.Abnormal())
	assert.Equal(t, 3, exit.Code)
	assert.Contains(t, exit.String(), "code 3")
}

func TestProcess_TerminateIsSignalExit(t *testing.T) {
	p := Watch(time.Second, startCmd(t, "sleep", "30"))

	p.Terminate()
	p.Terminate()

	exit := waitExit(t, p)
	assert.True(t, exit.Signaled())
	assert.False(t, exit.Abnormal())
	assert.Equal(t, syscall.SIGTERM, exit.Signal)
}

func TestProcess_TerminateEscalatesToKill(t *testing.T) {
	stubborn := startCmd(t, "sh", "-c", `trap "" TERM; while :; do sleep 0.05; done`)
	// Give the shell time to install the trap
	time.Sleep(200 * time.Millisecond)

	p := Watch(100*time.Millisecond, stubborn)
	p.Terminate()

	exit := waitExit(t, p)
	assert.Equal(t, syscall.SIGKILL, exit.Signal)
}

// walkRecorder stands in for the process tree walk and records the pids asked for
type walkRecorder struct {
	mu   sync.Mutex
	pids []int32
}

func (w *walkRecorder) descendants(pid int32) []*process.Process {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pids = append(w.pids, pid)
	return nil
}

func (w *walkRecorder) walked() []int32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int32(nil), w.pids...)
}

func TestProcess_TerminateAfterExitSignalsNothing(t *testing.T) {
	p := Watch(10*time.Millisecond, startCmd(t, "true"))
	walks := &walkRecorder{}
	p.descendants = walks.descendants

	exit := waitExit(t, p)
	p.Terminate()
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, walks.walked(), "no tree walk for a reaped pid")
	assert.False(t, exit.Signaled())
}

func TestProcess_TerminateSkipsReapedCommands(t *testing.T) {
	finished := startCmd(t, "true")
	running := startCmd(t, "sleep", "30")

	p := Watch(time.Second, finished, running)
	walks := &walkRecorder{}
	p.descendants = walks.descendants

	require.Eventually(t, p.reaped[0].Load, 5*time.Second, 5*time.Millisecond)
	p.Terminate()

	exit := waitExit(t, p)
	assert.Equal(t, syscall.SIGTERM, exit.Signal)
	assert.Equal(t, []int32{int32(running.Process.Pid)}, walks.walked())
}

func TestProcess_TerminateWalksTree(t *testing.T) {
	cmd := startCmd(t, "sleep", "30")
	p := Watch(time.Second, cmd)
	walks := &walkRecorder{}
	p.descendants = walks.descendants

	p.Terminate()
	exit := waitExit(t, p)

	assert.True(t, exit.Signaled())
	assert.Equal(t, []int32{int32(cmd.Process.Pid)}, walks.walked())
}

func TestProcess_PicksSignaledExitFromPipeline(t *testing.T) {
	first := startCmd(t, "sleep", "30")
	second := startCmd(t, "true")

	p := Watch(time.Second, first, second)
	time.Sleep(50 * time.Millisecond)
	p.Terminate()

	exit := waitExit(t, p)
	assert.True(t, exit.Signaled())
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	b := &tailBuffer{limit: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("def"))

	assert.Equal(t, "cdef", b.String())
}
