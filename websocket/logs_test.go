package websocket

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/stretchr/testify/require"
)

func TestHandlerWithLogsIncCounter(t *testing.T) {
	h := HandlerWithLogs(&RelayHandler{}, time.Second).(*handlerWithLogs)
	defer h.Close()

	h.incCounter("ag")
	require.Equal(t, 1, h.counter["ag"])
}

func TestHandlerWithLogsLogSummary(t *testing.T) {
	h := HandlerWithLogs(&RelayHandler{}, time.Second).(*handlerWithLogs)
	defer h.Close()

	h.incCounter("ag")
	h.incCounter("ag")
	h.incCounter("nx")

	var b strings.Builder
	logs.SetInlineEncoder()
	logs.SetLogger(func(e logs.Entry) {
		fmt.Fprint(&b, e)
	})

	h.logSummary()
	require.Empty(t, h.counter)

	logString := b.String()
	require.Contains(t, logString, `"ag":2`)
	require.Contains(t, logString, `"nx":1`)
	require.Contains(t, logString, `"rank":-1`)
	t.Log(b.String())
}

func TestHandlerWithLogsStartSummaryWorker(t *testing.T) {
	var wg sync.WaitGroup
	var once sync.Once

	var b strings.Builder
	logs.SetInlineEncoder()
	logs.SetLogger(func(e logs.Entry) {
		fmt.Fprint(&b, e)
		once.Do(wg.Done)
	})

	wg.Add(1)
	h := HandlerWithLogs(&RelayHandler{}, time.Millisecond).(*handlerWithLogs)
	defer h.Close()

	// No summary is logged until a counter is incremented.
	h.incCounter("b")

	wg.Wait()
	out := b.String()
	require.NotEmpty(t, out)
	t.Log(out)
}
