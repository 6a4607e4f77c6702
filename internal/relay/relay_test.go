package relay

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeExchangeRejectsTraversal(t *testing.T) {
	_, err := SanitizeExchange("../etc")
	assert.Error(t, err)

	ok, err := SanitizeExchange(" Binance ")
	require.NoError(t, err)
	assert.Equal(t, "binance", ok)
}

func TestSanitizeSymbolRejectsBackslash(t *testing.T) {
	_, err := SanitizeSymbol(`BTC\USDT`)
	assert.Error(t, err)

	ok, err := SanitizeSymbol(" BTC-USDT ")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", ok)
}

func TestResolveLatestPathsPicksNewestDayDir(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "binance", "BTCUSDT")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "20260101"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "20260102", "live"), 0o755))

	paths, err := ResolveLatestPaths(root, "binance", "BTC-USDT")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(paths.DayDir, "20260102"))
	assert.NotEmpty(t, paths.LiveDiffs)
}

func TestResolveLatestPathsEmptyWhenNoDayDir(t *testing.T) {
	root := t.TempDir()
	paths, err := ResolveLatestPaths(root, "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "", paths.DayDir)
}

func TestTailTextNDJSONOnlyReturnsNewLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{\"a\":1}\n{\"a\":2}\n"), 0o644))

	state := &TailState{}
	first := TailTextNDJSON(path, state)
	require.Len(t, first, 2)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"a\":3}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	second := TailTextNDJSON(path, state)
	require.Len(t, second, 1)
	assert.Equal(t, float64(3), second[0]["a"])
}

func TestServerStreamsDepthOverWebsocket(t *testing.T) {
	root := t.TempDir()
	dayDir := filepath.Join(root, "binance", "BTCUSDT", "20260101")
	liveDir := filepath.Join(dayDir, "live")
	require.NoError(t, os.MkdirAll(liveDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(liveDir, "live_depth_diffs.ndjson"),
		[]byte(`{"E":1000,"U":1,"u":1,"b":[["100.0","1.0"]],"a":[["101.0","1.0"]]}`+"\n"), 0o644))

	cfg := DefaultConfig(root)
	cfg.PollInterval = 20 * time.Millisecond
	cfg.LiveOnly = true
	srv := NewServer(cfg)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live/binance/BTCUSDT/depth"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	sawDiff := false
	appended := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			continue
		}
		if msg.Type == "status" && !appended {
			// The relay starts tailing at the file's current end, so only a
			// line appended after the "tailing latest files" status is sent.
			f, err := os.OpenFile(filepath.Join(liveDir, "live_depth_diffs.ndjson"), os.O_APPEND|os.O_WRONLY, 0o644)
			require.NoError(t, err)
			_, err = f.WriteString(`{"E":1001,"U":2,"u":2,"b":[["100.0","2.0"]],"a":[]}` + "\n")
			require.NoError(t, err)
			require.NoError(t, f.Close())
			appended = true
		}
		if msg.Type == "diff" {
			sawDiff = true
			break
		}
	}
	assert.True(t, sawDiff, "expected at least one diff message")
}
