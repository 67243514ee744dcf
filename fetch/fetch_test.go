package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchYahooDropsBarsWithNullFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"chart": {
				"result": [{
					"timestamp": [1000, 2000, 3000],
					"indicators": {
						"quote": [{
							"open":   [10, null, 12],
							"high":   [11, 21, 13],
							"low":    [9, 19, 11],
							"close":  [10.5, 20.5, 12.5],
							"volume": [100, 200, 300]
						}]
					}
				}],
				"error": null
			}
		}`))
	}))
	defer server.Close()

	client := &Client{HTTPClient: server.Client(), YahooBaseURL: server.URL}
	bars, err := client.FetchRange(context.Background(), "AAPL", "1day", "3mo")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.InDelta(t, 10.5, bars[0].Close, 1e-9)
	assert.InDelta(t, 12.5, bars[1].Close, 1e-9)
}

func TestFetchYahooReturnsErrorOnChartError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[],"error":{"description":"No data found"}}}`))
	}))
	defer server.Close()

	client := &Client{HTTPClient: server.Client(), YahooBaseURL: server.URL}
	_, err := client.FetchRange(context.Background(), "BADTICKER", "1day", "3mo")
	require.Error(t, err)
}

func TestFetchPolygonParsesAggregates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","results":[{"t":1700000000000,"o":1,"h":2,"l":0.5,"c":1.5,"v":1000}]}`))
	}))
	defer server.Close()

	client := &Client{HTTPClient: server.Client(), PolygonBaseURL: server.URL, PolygonAPIKey: "key"}
	bars, err := client.FetchRange(context.Background(), "AAPL", "1day", "1mo")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.InDelta(t, 1.5, bars[0].Close, 1e-9)
}

func TestRangeToDurationKnownRanges(t *testing.T) {
	assert.Equal(t, 91*24*time.Hour, rangeToDuration("3mo"))
	assert.Equal(t, 365*24*time.Hour, rangeToDuration("1y"))
	assert.Equal(t, 91*24*time.Hour, rangeToDuration("unknown"))
}
