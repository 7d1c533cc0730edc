package runner

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neoaudit/internal/config"
	"neoaudit/internal/model/scan"
)

const zapAlertsBody = `{"alerts":[
	{"alert":"Cross Site Scripting (Reflected)","risk":"High","confidence":"Medium","url":"http://127.0.0.1/search","param":"q","cweid":"79"},
	{"alert":"Cookie No HttpOnly Flag","risk":"Low","confidence":"Medium","url":"http://127.0.0.1/","cweid":"1004"}
]}`

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

// fakeZap 按脚本返回进度
type fakeZap struct {
	mu sync.Mutex

	startErr       error
	spiderProgress []int
	ascanProgress  []int
	statusErr      error

	spiderPolls   int
	ascanPolls    int
	spiderStopped bool
	ascanStopped  bool
	alertsRead    bool
}

func (f *fakeZap) next(seq []int, n int) int {
	if len(seq) == 0 {
		return 100
	}
	if n >= len(seq) {
		return seq[len(seq)-1]
	}
	return seq[n]
}

func (f *fakeZap) StartSpider(ctx context.Context, target string) (string, error) {
	return "1", f.startErr
}

func (f *fakeZap) SpiderStatus(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return 0, f.statusErr
	}
	p := f.next(f.spiderProgress, f.spiderPolls)
	f.spiderPolls++
	return p, nil
}

func (f *fakeZap) StopSpider(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spiderStopped = true
	return nil
}

func (f *fakeZap) StartActiveScan(ctx context.Context, target string) (string, error) {
	return "2", f.startErr
}

func (f *fakeZap) ActiveScanStatus(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return 0, f.statusErr
	}
	p := f.next(f.ascanProgress, f.ascanPolls)
	f.ascanPolls++
	return p, nil
}

func (f *fakeZap) StopActiveScan(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ascanStopped = true
	return nil
}

func (f *fakeZap) Alerts(ctx context.Context, baseURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertsRead = true
	return []byte(zapAlertsBody), nil
}

// progressLog 记录上报的进度
type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) Report(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func (p *progressLog) last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.values) == 0 {
		return -1
	}
	return p.values[len(p.values)-1]
}

func newTestWebRunner(client *fakeZap) *WebRunner {
	return NewWebRunner(client, &config.WebScanConfig{MaxPollErrors: 3}, time.Millisecond)
}

func TestWebRunnerCompletes(t *testing.T) {
	client := &fakeZap{spiderProgress: []int{50, 100}, ascanProgress: []int{10, 60, 100}}
	progress := &progressLog{}
	r := newTestWebRunner(client)

	res, err := r.Run(context.Background(), &Execution{TaskID: 1, Target: "http://127.0.0.1", Progress: progress})
	require.NoError(t, err)

	assert.Equal(t, scan.FinishReasonCompleted, res.Reason)
	assert.True(t, client.alertsRead)
	require.Len(t, res.Findings, 2)
	assert.Equal(t, "web_scan:zap", res.Findings[0].Source)
	assert.Equal(t, scan.SeverityHigh, res.Findings[0].Severity)
	// spider 0-30，ascan 30-100
	assert.Equal(t, []int{15, 30, 37, 72, 100}, progress.values)
}

func TestWebRunnerStopMidPoll(t *testing.T) {
	client := &fakeZap{spiderProgress: []int{20, 40, 60, 80, 100}}
	var (
		mu      sync.Mutex
		stopped bool
	)
	progress := &progressLog{}
	exec := &Execution{
		TaskID: 2,
		Target: "http://127.0.0.1",
		Config: map[string]interface{}{"active_scan": false},
		Stop: StopFunc(func() bool {
			mu.Lock()
			defer mu.Unlock()
			return stopped
		}),
		Progress: ProgressFunc(func(p int) {
			progress.Report(p)
			if p >= 40 {
				mu.Lock()
				stopped = true
				mu.Unlock()
			}
		}),
	}

	res, err := newTestWebRunner(client).Run(context.Background(), exec)
	require.NoError(t, err)
	assert.True(t, res.Stopped())
	assert.Equal(t, 40, progress.last())
	assert.True(t, client.spiderStopped)
	assert.False(t, client.alertsRead)
	assert.Empty(t, res.Findings)
}

func TestWebRunnerDaemonUnreachable(t *testing.T) {
	client := &fakeZap{startErr: errRefused}
	res, err := newTestWebRunner(client).Run(context.Background(), &Execution{TaskID: 3, Target: "http://127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, scan.FinishReasonDegraded, res.Reason)
	assert.Empty(t, res.Findings)
	assert.NotNil(t, res.Findings)
	assert.NotEmpty(t, res.Warnings)
	assert.False(t, client.alertsRead)
}

func TestWebRunnerDeadline(t *testing.T) {
	client := &fakeZap{spiderProgress: []int{10}}
	res, err := newTestWebRunner(client).Run(context.Background(), &Execution{
		TaskID: 4,
		Target: "http://127.0.0.1",
		Config: map[string]interface{}{"max_duration": "30ms"},
	})
	require.NoError(t, err)
	assert.Equal(t, scan.FinishReasonTimeout, res.Reason)
	assert.True(t, client.spiderStopped)
	// 超时后仍读取部分结果
	assert.True(t, client.alertsRead)
	assert.Len(t, res.Findings, 2)
	assert.Equal(t, 0, client.ascanPolls)
}

func TestWebRunnerPollErrors(t *testing.T) {
	client := &fakeZap{statusErr: errors.New("zap api error (http 500)")}
	res, err := newTestWebRunner(client).Run(context.Background(), &Execution{TaskID: 5, Target: "http://127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, scan.FinishReasonDegraded, res.Reason)
	assert.True(t, client.spiderStopped)
	assert.True(t, client.ascanStopped)
	assert.True(t, client.alertsRead)
}

func TestWebRunnerCancelled(t *testing.T) {
	client := &fakeZap{spiderProgress: []int{10}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := newTestWebRunner(client).Run(ctx, &Execution{TaskID: 6, Target: "http://127.0.0.1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunnerManager(t *testing.T) {
	m := NewRunnerManager(newTestWebRunner(&fakeZap{}))
	r, err := m.Get(scan.ScanTypeWeb)
	require.NoError(t, err)
	assert.Equal(t, scan.ScanTypeWeb, r.Name())

	_, err = m.Get("bogus")
	assert.ErrorIs(t, err, ErrUnknownScanType)
	assert.Contains(t, err.Error(), "unknown scan type")
	assert.Equal(t, []scan.ScanType{scan.ScanTypeWeb}, m.Types())
}
