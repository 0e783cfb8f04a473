package backtest

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReporter_Write(t *testing.T) {
	rep, err := NewReporter(t.TempDir())
	assert.NoError(t, err)

	run := sampleRun("run-1")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := []Snapshot{
		{TS: start.UnixMilli(), Equity: 100000, Cash: 100000},
		{TS: start.Add(24 * time.Hour).UnixMilli(), Equity: 101000, Cash: 1000, PositionsValue: 100000},
		{TS: start.Add(48 * time.Hour).UnixMilli(), Equity: 100500, Cash: 100500, Drawdown: -0.00495},
	}
	trades := []TradeRecord{
		{Symbol: "BTCUSDT", NetPnL: 490, ExitTime: start.Add(48 * time.Hour)},
		{Symbol: "BTCUSDT", NetPnL: -120, ExitTime: start.Add(72 * time.Hour)},
	}

	path, err := rep.Write(run, snaps, trades)
	assert.NoError(t, err)
	assert.Equal(t, rep.Path("run-1"), path)

	body, err := os.ReadFile(path)
	assert.NoError(t, err)
	html := string(body)
	assert.True(t, strings.Contains(html, "echarts"), "report embeds chart payloads")
	assert.True(t, strings.Contains(html, "BTCUSDT"))
}

func TestReporter_WriteRequiresCurve(t *testing.T) {
	rep, err := NewReporter(t.TempDir())
	assert.NoError(t, err)
	_, err = rep.Write(sampleRun("run-1"), nil, nil)
	assert.Error(t, err)
}

func TestNewReporter_RejectsEmptyDir(t *testing.T) {
	_, err := NewReporter("")
	assert.Error(t, err)
}
