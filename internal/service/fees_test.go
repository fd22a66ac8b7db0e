package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"settlement-service/internal/models"
)

type fakeFeeStore struct {
	settings *models.FeeSettings
	err      error
}

func (f *fakeFeeStore) GetActiveFeeSettings(ctx context.Context) (*models.FeeSettings, error) {
	return f.settings, f.err
}

func (f *fakeFeeStore) RotateFeeSettings(ctx context.Context, platformPct, gatewayPct decimal.Decimal, actor string) (*models.FeeSettings, error) {
	f.settings = &models.FeeSettings{
		PlatformFeePct: platformPct,
		GatewayFeePct:  gatewayPct,
		IsActive:       true,
		CreatedBy:      actor,
	}
	return f.settings, nil
}

func TestResolveUsesActiveSettings(t *testing.T) {
	store := &fakeFeeStore{
		settings: &models.FeeSettings{
			PlatformFeePct: dec("0.12"),
			GatewayFeePct:  dec("0.03"),
		},
	}
	r := NewFeeResolver(store, 0.15, 0.05)

	fees := r.Resolve(context.Background())
	assert.True(t, fees.PlatformPct.Equal(dec("0.12")))
	assert.True(t, fees.GatewayPct.Equal(dec("0.03")))
}

func TestResolveFallsBackToDefaultsWhenUnconfigured(t *testing.T) {
	r := NewFeeResolver(&fakeFeeStore{}, 0.15, 0.05)

	fees := r.Resolve(context.Background())
	assert.True(t, fees.PlatformPct.Equal(dec("0.15")))
	assert.True(t, fees.GatewayPct.Equal(dec("0.05")))
}

func TestResolveFallsBackToDefaultsOnReadError(t *testing.T) {
	r := NewFeeResolver(&fakeFeeStore{err: errors.New("db down")}, 0.15, 0.05)

	fees := r.Resolve(context.Background())
	assert.True(t, fees.PlatformPct.Equal(dec("0.15")))
	assert.True(t, fees.GatewayPct.Equal(dec("0.05")))
}

func TestResolvePicksUpRotation(t *testing.T) {
	store := &fakeFeeStore{}
	r := NewFeeResolver(store, 0.15, 0.05)

	_, err := store.RotateFeeSettings(context.Background(), dec("0.10"), dec("0.02"), "ops")
	assert.NoError(t, err)

	fees := r.Resolve(context.Background())
	assert.True(t, fees.PlatformPct.Equal(dec("0.10")))
	assert.True(t, fees.GatewayPct.Equal(dec("0.02")))
}
