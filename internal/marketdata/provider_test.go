package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/marketdata/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newMock(ctrl *gomock.Controller, name string, markets ...core.Market) *mocks.MockProvider {
	p := mocks.NewMockProvider(ctrl)
	p.EXPECT().Name().Return(name).AnyTimes()
	p.EXPECT().SupportedMarkets().Return(markets).AnyTimes()
	return p
}

func TestRegistry_RoutesCryptoToCryptoProvider(t *testing.T) {
	ctrl := gomock.NewController(t)
	stocks := newMock(ctrl, "yahoo", core.MarketUS, core.MarketHK)
	crypto := newMock(ctrl, "binance", core.MarketCrypto)

	want := []core.OHLCV{{Close: 42000}}
	crypto.EXPECT().FetchBars(gomock.Any(), "BTC-USD", "1h", gomock.Any(), gomock.Any()).Return(want, nil)

	r := NewRegistry(nil)
	r.Register(stocks)
	r.Register(crypto)

	got, err := r.FetchBars(context.Background(), "BTC-USD", "1h", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRegistry_FallsBackOnError(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := newMock(ctrl, "first", core.MarketUS)
	second := newMock(ctrl, "second", core.MarketUS)

	gomock.InOrder(
		first.EXPECT().FetchBars(gomock.Any(), "AAPL", "1d", gomock.Any(), gomock.Any()).Return(nil, errors.New("rate limited")),
		second.EXPECT().FetchBars(gomock.Any(), "AAPL", "1d", gomock.Any(), gomock.Any()).Return([]core.OHLCV{{Close: 190}}, nil),
	)

	r := NewRegistry(nil)
	r.Register(first)
	r.Register(second)

	got, err := r.FetchBars(context.Background(), "AAPL", "1d", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRegistry_Errors(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newMock(ctrl, "yahoo", core.MarketUS)
	p.EXPECT().FetchBars(gomock.Any(), "DEAD", gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	p.EXPECT().FetchBars(gomock.Any(), "FAIL", gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))

	r := NewRegistry(nil)
	r.Register(p)

	_, err := r.FetchBars(context.Background(), "DEAD", "1d", time.Now(), time.Now())
	assert.ErrorIs(t, err, core.ErrDataUnavailable)

	_, err = r.FetchBars(context.Background(), "FAIL", "1d", time.Now(), time.Now())
	assert.ErrorIs(t, err, core.ErrProviderFailed)

	_, err = r.FetchBars(context.Background(), "0700.HK", "1d", time.Now(), time.Now())
	assert.ErrorIs(t, err, core.ErrDataUnavailable)

	got, ok := r.Get("yahoo")
	assert.True(t, ok)
	assert.Equal(t, p, got)
}
