package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedgerStore struct {
	hasCredits bool
	probeErr   error
	sums       map[int64]int64
}

func (f *fakeLedgerStore) HasSaleCredits(ctx context.Context, upTo time.Time) (bool, error) {
	return f.hasCredits, f.probeErr
}

func (f *fakeLedgerStore) SumSaleCredits(ctx context.Context, merchantID int64, from, to time.Time) (int64, error) {
	return f.sums[merchantID], nil
}

func TestSelectSourceComputedWhenNoCredits(t *testing.T) {
	s := NewLedgerSelector(&fakeLedgerStore{hasCredits: false})

	source, err := s.SelectSource(context.Background(), day("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, SourceComputed, source)
}

func TestSelectSourceLedgerWhenCreditsExist(t *testing.T) {
	s := NewLedgerSelector(&fakeLedgerStore{hasCredits: true})

	source, err := s.SelectSource(context.Background(), day("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, SourceLedger, source)
}

func TestSelectSourcePropagatesProbeError(t *testing.T) {
	probeErr := errors.New("connection reset")
	s := NewLedgerSelector(&fakeLedgerStore{probeErr: probeErr})

	_, err := s.SelectSource(context.Background(), day("2024-03-10"))
	assert.ErrorIs(t, err, probeErr)
}
