package consumer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/railtracker/internal/common/config"
	"github.com/railtracker/internal/common/logger"
	"github.com/railtracker/internal/common/metrics"
)

const lastModified = "Mon, 03 Jun 2024 12:30:00 GMT"

func feedBytes(t *testing.T) []byte {
	t.Helper()
	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(1717417800),
		},
		Entity: []*gtfsrt.FeedEntity{{
			Id: proto.String("1"),
			TripUpdate: &gtfsrt.TripUpdate{
				Trip:  &gtfsrt.TripDescriptor{TripId: proto.String("out-0800")},
				Delay: proto.Int32(240),
			},
		}},
	}
	b, err := proto.Marshal(msg)
	require.NoError(t, err)
	return b
}

func newTestConsumer(url string, m *metrics.Collector) (*Consumer, config.GTFSRealtimeFeed) {
	feed := config.GTFSRealtimeFeed{Name: "trip-updates", URL: url, FeedType: config.FeedTypeTripUpdates}
	c := NewConsumer(config.GTFSRealtimeConfig{
		PollingInterval: time.Second,
		Username:        "user",
		Password:        "secret",
		Feeds:           []config.GTFSRealtimeFeed{feed},
	}, logger.Nop(), m)
	c.retryInitial = time.Millisecond
	return c, feed
}

func TestFetchOnceSendsCredentialsAndParses(t *testing.T) {
	body := feedBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Last-Modified", lastModified)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	m := metrics.NewCollector()
	c, feed := newTestConsumer(srv.URL, m)

	result := c.FetchOnce(context.Background(), feed)
	require.NoError(t, result.Error)
	assert.False(t, result.NotModified)
	require.NotNil(t, result.Message)
	require.Len(t, result.Message.GetEntity(), 1)
	assert.Equal(t, "out-0800", result.Message.GetEntity()[0].GetTripUpdate().GetTrip().GetTripId())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Polls.WithLabelValues(config.FeedTypeTripUpdates, "ok")))
}

func TestFetchOnceConditionalRequest(t *testing.T) {
	body := feedBytes(t)
	var sawHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ims := r.Header.Get("If-Modified-Since"); ims != "" {
			sawHeader.Store(ims)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", lastModified)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c, feed := newTestConsumer(srv.URL, nil)

	first := c.FetchOnce(context.Background(), feed)
	require.NoError(t, first.Error)
	require.NotNil(t, first.Message)

	second := c.FetchOnce(context.Background(), feed)
	require.NoError(t, second.Error)
	assert.True(t, second.NotModified)
	assert.Nil(t, second.Message)
	assert.Equal(t, lastModified, sawHeader.Load())
}

func TestFetchOnceRetriesServerErrors(t *testing.T) {
	body := feedBytes(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c, feed := newTestConsumer(srv.URL, nil)

	result := c.FetchOnce(context.Background(), feed)
	require.NoError(t, result.Error)
	assert.NotNil(t, result.Message)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchOnceClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := metrics.NewCollector()
	c, feed := newTestConsumer(srv.URL, m)

	result := c.FetchOnce(context.Background(), feed)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Polls.WithLabelValues(config.FeedTypeTripUpdates, "error")))
}

func TestFetchOnceRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0xff, 0xff, 0xff})
	}))
	defer srv.Close()

	c, feed := newTestConsumer(srv.URL, nil)

	result := c.FetchOnce(context.Background(), feed)
	assert.Error(t, result.Error)
}

func TestStartPublishesResults(t *testing.T) {
	body := feedBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c, _ := newTestConsumer(srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx))
	assert.Error(t, c.Start(ctx))
	defer c.Stop()

	select {
	case result := <-c.FeedChannel():
		require.NoError(t, result.Error)
		assert.Equal(t, "trip-updates", result.Feed.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("no feed result published")
	}
}
