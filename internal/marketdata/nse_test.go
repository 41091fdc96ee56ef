package marketdata

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

const spurtsPayload = `{
  "data": [
    {"Slide-in-OI-Slide": []},
    {"Rise-in-OI-Rise": [
      {
        "symbol": "NIFTY",
        "instrumentType": "OPTIDX",
        "optionType": "Call",
        "strikePrice": 25000,
        "expiryDate": "2026-09-25",
        "ltp": 112.4,
        "changeInOI": 183000,
        "identifier": "OPTIDXNIFTY25-09-2026CE25000.00"
      }
    ]}
  ]
}`

const chainPayload = `{
  "records": {
    "data": [
      {
        "strikePrice": 25000,
        "CE": {"lastPrice": 130.9, "change": 18.5, "totalTradedVolume": 91822, "openInterest": 220000},
        "PE": {"lastPrice": 88.1, "change": -4.1, "totalTradedVolume": 53211, "openInterest": 198000}
      },
      {
        "strikePrice": 25100,
        "CE": {"lastPrice": 91.2, "change": 11.0, "totalTradedVolume": 40100, "openInterest": 175000}
      }
    ]
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *NSEClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewNSEClient(testLogger(),
		WithHTTPClient(srv.Client()),
		WithBaseURLs(srv.URL+"/spurts", srv.URL+"/chain"))
}

func TestRisingOISpurts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/spurts", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(spurtsPayload))
	})

	rows, err := client.RisingOISpurts(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "NIFTY", rows[0].Instrument)
	assert.Equal(t, "OPTIDX", rows[0].InstrumentType)
	assert.Equal(t, 25000.0, rows[0].StrikePrice)
	assert.Equal(t, 183000.0, rows[0].ChangeInOI)
}

func TestRisingOISpurtsMissingBucket(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"Slide-in-OI-Slide":[]}]}`))
	})

	rows, err := client.RisingOISpurts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRisingOISpurtsMalformedPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected": true}`))
	})

	_, err := client.RisingOISpurts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing data block")
}

func TestRisingOISpurtsHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "access denied", http.StatusUnauthorized)
	})

	_, err := client.RisingOISpurts(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestOptionChainAndLookup(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chain", r.URL.Path)
		assert.Equal(t, "NIFTY", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(chainPayload))
	})

	chain, err := client.OptionChain(context.Background(), "NIFTY")
	require.NoError(t, err)
	require.Len(t, chain.Entries, 2)

	call, err := chain.Lookup(25000, true)
	require.NoError(t, err)
	assert.Equal(t, 130.9, call.LastPrice)
	assert.Equal(t, int64(220000), call.OpenInterest)

	put, err := chain.Lookup(25000, false)
	require.NoError(t, err)
	assert.Equal(t, 88.1, put.LastPrice)

	// Strike present but put leg missing.
	_, err = chain.Lookup(25100, false)
	require.ErrorIs(t, err, ErrQuoteNotFound)

	// Strike absent entirely.
	_, err = chain.Lookup(26000, true)
	require.ErrorIs(t, err, ErrQuoteNotFound)
}
