package app_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/automarketer/publisher/internal/app"
	"github.com/automarketer/publisher/internal/config"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.PollInterval = 30 * time.Second
	cfg.Scheduler.TickLock = true
	cfg.LinkedIn.ClientID = "cid"

	opt := app.SchedulerOptions(cfg)
	require.Equal(t, 30*time.Second, opt.PollInterval)
	require.Equal(t, 24*time.Hour, opt.RefreshWindow)
	require.Equal(t, "urn:li:person:unknown", opt.DefaultAccountURN)
	require.True(t, opt.TickLock)

	li := app.LinkedInConfig(cfg)
	require.Equal(t, "cid", li.ClientID)
	require.Equal(t, "https://api.linkedin.com/v2", li.APIURL)
	require.Equal(t, 30*time.Second, li.Timeout)
}
