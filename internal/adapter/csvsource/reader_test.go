package csvsource

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
	"github.com/couchcryptid/chlorophyll-emd/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `lon,lat,month,chl
-70.5,35.5,1,0.21
-69.5,35.5,1,NA
-70.5,36.5,2,0.35
-69.5,36.5,2.0,
`

func newTestReader(metrics *observability.Metrics) *Reader {
	return NewReader(Columns{Lon: "lon", Lat: "lat", Month: "month", Value: "chl"}, slog.Default(), metrics)
}

func TestDecode(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	obs, err := newTestReader(metrics).Decode(context.Background(), strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, obs, 4)

	assert.Equal(t, domain.Observation{Lon: -70.5, Lat: 35.5, Month: 1, Value: 0.21}, obs[0])
	assert.True(t, math.IsNaN(obs[1].Value))
	assert.Equal(t, 2, obs[2].Month)
	assert.Equal(t, 2, obs[3].Month)
	assert.True(t, math.IsNaN(obs[3].Value))

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.ObservationsRead))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ObservationsMissing))
}

func TestDecode_CustomColumnsAndOrder(t *testing.T) {
	data := "\ufeffmonth,value,latitude,longitude,extra\n3,1.5,10,20,x\n"
	r := NewReader(Columns{Lon: "longitude", Lat: "latitude", Month: "month", Value: "value"}, slog.Default(), nil)

	obs, err := r.Decode(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []domain.Observation{{Lon: 20, Lat: 10, Month: 3, Value: 1.5}}, obs)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "empty input", data: "", wantErr: "missing header"},
		{name: "missing column", data: "lon,lat,month\n1,2,3\n", wantErr: `missing column "chl"`},
		{name: "bad lon", data: "lon,lat,month,chl\nx,2,3,1\n", wantErr: "line 2"},
		{name: "month out of range", data: "lon,lat,month,chl\n1,2,13,1\n", wantErr: `month "13"`},
		{name: "fractional month", data: "lon,lat,month,chl\n1,2,1.5,1\n", wantErr: "month"},
		{name: "negative value", data: "lon,lat,month,chl\n1,2,3,1\n1,2,3,-0.5\n", wantErr: "line 3"},
		{name: "bad value", data: "lon,lat,month,chl\n1,2,3,high\n", wantErr: `value "high"`},
		{name: "infinite value", data: "lon,lat,month,chl\n1,2,3,Inf\n", wantErr: `infinite value "Inf"`},
		{name: "signed infinite value", data: "lon,lat,month,chl\n1,2,3,+inf\n", wantErr: `infinite value "+inf"`},
		{name: "infinite lat", data: "lon,lat,month,chl\n1,-Infinity,3,1\n", wantErr: `lat "-Infinity"`},
		{name: "nan lon", data: "lon,lat,month,chl\n NaN,2,3,1\n", wantErr: `lon "NaN"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestReader(nil).Decode(context.Background(), strings.NewReader(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecode_MalformedRowSentinel(t *testing.T) {
	_, err := newTestReader(nil).Decode(context.Background(), strings.NewReader("lon,lat,month,chl\n1,2,0,1\n"))
	require.ErrorIs(t, err, ErrMalformedRow)

	_, err = newTestReader(nil).Decode(context.Background(), strings.NewReader("lon,lat,month,chl\n1,2,3,Inf\n"))
	require.ErrorIs(t, err, ErrMalformedRow)
}

func TestReadObservations_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tile.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	obs, err := newTestReader(nil).ReadObservations(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, obs, 4)
}

func TestReadObservations_MissingFile(t *testing.T) {
	_, err := newTestReader(nil).ReadObservations(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
