package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testRobotsBody = `User-agent: harvest-test
Disallow: /private/
Crawl-delay: 2

User-agent: *
Disallow: /admin/
`

func TestRobotsEnforcerAllowsAndDisallows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		fmt.Fprint(w, testRobotsBody)
	}))
	defer srv.Close()

	enforcer := NewRobotsEnforcer(true, "harvest-test", time.Hour, newFakeClock(), zap.NewNop())

	allowed, delay := enforcer.Allowed(context.Background(), srv.URL+"/public/page")
	require.True(t, allowed)
	require.Equal(t, 2*time.Second, delay)

	allowed, _ = enforcer.Allowed(context.Background(), srv.URL+"/private/page")
	require.False(t, allowed)
}

func TestRobotsEnforcerCachesPerHost(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, testRobotsBody)
	}))
	defer srv.Close()

	clock := newFakeClock()
	enforcer := NewRobotsEnforcer(true, "harvest-test", time.Hour, clock, zap.NewNop())

	for i := 0; i < 5; i++ {
		enforcer.Allowed(context.Background(), srv.URL+"/page")
	}
	require.EqualValues(t, 1, hits.Load())

	// Past the TTL the policy is refetched.
	clock.Advance(2 * time.Hour)
	enforcer.Allowed(context.Background(), srv.URL+"/page")
	require.EqualValues(t, 2, hits.Load())
}

func TestRobotsEnforcerMissingFileAllowsAll(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	enforcer := NewRobotsEnforcer(true, "harvest-test", time.Hour, newFakeClock(), zap.NewNop())
	allowed, delay := enforcer.Allowed(context.Background(), srv.URL+"/anything")
	require.True(t, allowed)
	require.Zero(t, delay)
}

func TestRobotsEnforcerUnreachableHostAllows(t *testing.T) {
	t.Parallel()

	enforcer := NewRobotsEnforcer(true, "harvest-test", time.Hour, newFakeClock(), zap.NewNop())
	allowed, _ := enforcer.Allowed(context.Background(), "http://127.0.0.1:1/page")
	require.True(t, allowed)
}

func TestRobotsEnforcerRecord(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, testRobotsBody)
	}))
	defer srv.Close()

	enforcer := NewRobotsEnforcer(true, "harvest-test", time.Hour, newFakeClock(), zap.NewNop())

	_, ok := enforcer.Record("never-looked-up.example")
	require.False(t, ok)

	enforcer.Allowed(context.Background(), srv.URL+"/page")
	host := srv.Listener.Addr().String()
	rec, ok := enforcer.Record(host)
	require.True(t, ok)
	require.Equal(t, testRobotsBody, rec.Body)
	require.Equal(t, 2*time.Second, rec.CrawlDelay)
	require.False(t, rec.Expired(newFakeClock().Now()))
}

func TestRobotsDisabledAllowsEverything(t *testing.T) {
	t.Parallel()

	enforcer := NewRobotsEnforcer(false, "harvest-test", time.Hour, newFakeClock(), zap.NewNop())
	allowed, delay := enforcer.Allowed(context.Background(), "http://blocked.example/private/")
	require.True(t, allowed)
	require.Zero(t, delay)
	_, ok := enforcer.Record("blocked.example")
	require.False(t, ok)
}
