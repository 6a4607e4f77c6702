// Package config loads recorder/replayer settings from the environment,
// matching the env surface of spec §6.3, using viper for binding and
// defaulting the way the teacher's cmd/config tooling loads settings.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Window describes the recording window in a configured timezone.
type Window struct {
	StartHHMM    string
	EndHHMM      string
	EndDayOffset int
	TZ           string
}

// Recorder is the full set of knobs a recorder process is started with.
type Recorder struct {
	Exchange string
	Symbol   string
	Window   Window

	WSPingIntervalS        int
	WSPingTimeoutS         int
	WSMaxSessionS          int
	WSReconnectBackoffS    float64
	WSReconnectBackoffMaxS float64
	WSNoDataWarnS          int

	StoreDepthDiffs    bool
	LiveStream         bool
	LiveStreamRotateS  int
	LiveStreamRetnS    int

	PriceTickSizeOverride string
	MetadataStrict        bool

	DataDir string
}

// Load reads settings from the process environment with MM_/WS_/WINDOW_
// prefixes, matching spec §6.3's environment surface.
func Load() (*Recorder, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("exchange", "binance")
	v.SetDefault("symbol", "BTCUSDT")
	v.SetDefault("window_start_hhmm", "00:00")
	v.SetDefault("window_end_hhmm", "23:59")
	v.SetDefault("window_end_day_offset", 0)
	v.SetDefault("window_tz", "UTC")
	v.SetDefault("ws_ping_interval_s", 20)
	v.SetDefault("ws_ping_timeout_s", 10)
	v.SetDefault("ws_max_session_s", 23*3600)
	v.SetDefault("ws_reconnect_backoff_s", 1.0)
	v.SetDefault("ws_reconnect_backoff_max_s", 60.0)
	v.SetDefault("ws_no_data_warn_s", 30)
	v.SetDefault("store_depth_diffs", true)
	v.SetDefault("live_stream", true)
	v.SetDefault("live_stream_rotate_s", 3600)
	v.SetDefault("live_stream_retention_s", 6*3600)
	v.SetDefault("mm_metadata_strict", false)
	v.SetDefault("data_dir", "data")

	if err := v.BindEnv("exchange", "EXCHANGE"); err != nil {
		return nil, errors.Wrap(err, "config: bind EXCHANGE")
	}
	if err := v.BindEnv("symbol", "SYMBOL"); err != nil {
		return nil, errors.Wrap(err, "config: bind SYMBOL")
	}

	cfg := &Recorder{
		Exchange: v.GetString("exchange"),
		Symbol:   v.GetString("symbol"),
		Window: Window{
			StartHHMM:    v.GetString("window_start_hhmm"),
			EndHHMM:      v.GetString("window_end_hhmm"),
			EndDayOffset: v.GetInt("window_end_day_offset"),
			TZ:           v.GetString("window_tz"),
		},
		WSPingIntervalS:        v.GetInt("ws_ping_interval_s"),
		WSPingTimeoutS:         v.GetInt("ws_ping_timeout_s"),
		WSMaxSessionS:          v.GetInt("ws_max_session_s"),
		WSReconnectBackoffS:    v.GetFloat64("ws_reconnect_backoff_s"),
		WSReconnectBackoffMaxS: v.GetFloat64("ws_reconnect_backoff_max_s"),
		WSNoDataWarnS:          v.GetInt("ws_no_data_warn_s"),
		StoreDepthDiffs:        v.GetBool("store_depth_diffs"),
		LiveStream:             v.GetBool("live_stream"),
		LiveStreamRotateS:      v.GetInt("live_stream_rotate_s"),
		LiveStreamRetnS:        v.GetInt("live_stream_retention_s"),
		PriceTickSizeOverride:  v.GetString("mm_price_tick_size"),
		MetadataStrict:         v.GetBool("mm_metadata_strict"),
		DataDir:                v.GetString("data_dir"),
	}

	if _, err := time.LoadLocation(cfg.Window.TZ); err != nil {
		return nil, errors.Wrapf(err, "config: invalid WINDOW_TZ %q", cfg.Window.TZ)
	}
	if cfg.Exchange == "" || cfg.Symbol == "" {
		return nil, errors.New("config: EXCHANGE and SYMBOL must be set")
	}
	return cfg, nil
}
