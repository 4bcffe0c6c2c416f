// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/deepresearch/internal/config"
)

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenStore(ctx, config.UsageConfig{Backend: config.BackendFile, Path: filepath.Join(dir, DefaultFileName)})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	s.Close()

	s, err = OpenStore(ctx, config.UsageConfig{Backend: config.BackendSQLite, Path: filepath.Join(dir, DefaultSQLiteFileName)})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	_, err = OpenStore(ctx, config.UsageConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestOpen_AppliesConfiguredLimits(t *testing.T) {
	cfg := config.UsageConfig{
		Backend:      config.BackendFile,
		Path:         filepath.Join(t.TempDir(), DefaultFileName),
		DailyLimit:   3,
		MonthlyLimit: 50,
	}
	l, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, Limits{Daily: 3, Monthly: 50}, l.LimitsFor(ProviderExa))
}
