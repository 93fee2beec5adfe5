package health

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paypersist/pkg/metrics"
)

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Name() string { return s.name }
func (s stubChecker) Check(context.Context) error { return s.err }

func TestCheckerRegistry(t *testing.T) {
	down := errors.New("connection refused")

	tests := []struct {
		name     string
		postgres error
		redis    error
		want     Status
	}{
		{"all up", nil, nil, StatusHealthy},
		{"optional down", nil, down, StatusDegraded},
		{"critical down", down, nil, StatusUnhealthy},
		{"both down", down, down, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			r.Register(stubChecker{name: "postgresql", err: tt.postgres})
			r.RegisterOptional(stubChecker{name: "redis", err: tt.redis})

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, 2)
			if tt.redis != nil {
				assert.Equal(t, StatusDegraded, h.Checks["redis"].Status)
				assert.Contains(t, h.Checks["redis"].Message, "connection refused")
			}
		})
	}
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, tc := range []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{errors.New("down"), http.StatusServiceUnavailable},
	} {
		r := NewCheckerRegistry()
		r.Register(stubChecker{name: "postgresql", err: tc.err})

		router := gin.New()
		router.GET("/health", Handler(r))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, tc.code, w.Code)
	}
}

type pingConnector struct{ err error }

func (c pingConnector) Connect(context.Context) (driver.Conn, error) { return pingConn{err: c.err}, nil }
func (c pingConnector) Driver() driver.Driver { return nil }

type pingConn struct{ err error }

func (c pingConn) Ping(context.Context) error { return c.err }
func (pingConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (pingConn) Close() error { return nil }
func (pingConn) Begin() (driver.Tx, error) { return nil, errors.New("not supported") }

func TestPostgreSQLChecker_ReportsOpenConnections(t *testing.T) {
	db := sql.OpenDB(pingConnector{})
	t.Cleanup(func() { _ = db.Close() })

	checker := NewPostgreSQLChecker(db, "health-test")
	require.NoError(t, checker.Check(context.Background()))

	gauge := metrics.DatabaseConnectionsActive.WithLabelValues("health-test", "postgresql")
	assert.Equal(t, float64(db.Stats().OpenConnections), testutil.ToFloat64(gauge))
	assert.Equal(t, 1.0, testutil.ToFloat64(gauge))
}

func TestPostgreSQLChecker_PingFailure(t *testing.T) {
	db := sql.OpenDB(pingConnector{err: errors.New("connection refused")})
	t.Cleanup(func() { _ = db.Close() })

	err := NewPostgreSQLChecker(db, "health-test-down").Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgresql ping failed")
}
