package monitoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCheck struct {
	name   string
	status HealthStatus
}

func (s staticCheck) Name() string { return s.name }

func (s staticCheck) Check(ctx context.Context) HealthCheck {
	return HealthCheck{Status: s.status}
}

func TestOverallStatusIsWorstCheck(t *testing.T) {
	tests := []struct {
		name     string
		checks   []HealthChecker
		expected HealthStatus
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []HealthChecker{staticCheck{"a", StatusHealthy}, staticCheck{"b", StatusHealthy}}, StatusHealthy},
		{"one degraded", []HealthChecker{staticCheck{"a", StatusHealthy}, staticCheck{"b", StatusDegraded}}, StatusDegraded},
		{"unhealthy wins", []HealthChecker{staticCheck{"a", StatusDegraded}, staticCheck{"b", StatusUnhealthy}}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewHealthMonitor(tt.checks...).GetHealthStatus(context.Background())
			assert.Equal(t, tt.expected, resp.Status)
			assert.Equal(t, len(tt.checks), resp.Summary.Total)
		})
	}
}

func TestRegisterCheckReplacesByName(t *testing.T) {
	hm := NewHealthMonitor(staticCheck{"db", StatusUnhealthy})
	hm.RegisterCheck(staticCheck{"db", StatusHealthy})

	resp := hm.GetHealthStatus(context.Background())
	assert.Equal(t, 1, resp.Summary.Total)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		status   HealthStatus
		expected int
	}{
		{"healthy", StatusHealthy, http.StatusOK},
		{"degraded", StatusDegraded, http.StatusOK},
		{"unhealthy", StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := NewHealthMonitor(staticCheck{"x", tt.status})
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			require.NoError(t, hm.HealthHandler(c))
			assert.Equal(t, tt.expected, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Checks["x"].Status)
		})
	}
}

func TestDatabaseHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		check := (&DatabaseHealthCheck{DB: db}).Check(context.Background())
		assert.Equal(t, StatusHealthy, check.Status)
		assert.Equal(t, "3", check.Details["active_sessions"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT COUNT").WillReturnError(sql.ErrNoRows)

		check := (&DatabaseHealthCheck{DB: db}).Check(context.Background())
		assert.Equal(t, StatusDegraded, check.Status)
	})

	t.Run("ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(sql.ErrConnDone)

		check := (&DatabaseHealthCheck{DB: db}).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, check.Status)
	})

	t.Run("nil", func(t *testing.T) {
		check := (&DatabaseHealthCheck{}).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, check.Status)
	})
}

func TestKeyHealthCheck(t *testing.T) {
	key := make([]byte, 32)

	check := (&KeyHealthCheck{TOTPMasterKey: key, TOTPKeyLength: 32}).Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)

	check = (&KeyHealthCheck{EphemeralPakeKey: true, TOTPMasterKey: key, TOTPKeyLength: 32}).Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Equal(t, "ephemeral", check.Details["opaque_server_key"])

	check = (&KeyHealthCheck{TOTPMasterKey: key[:16], TOTPKeyLength: 32}).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
}

func TestSystemHealthCheck(t *testing.T) {
	check := (&SystemHealthCheck{}).Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.NotEmpty(t, check.Details["goroutines"])
}
