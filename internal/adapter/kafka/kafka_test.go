package kafka

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/couchcryptid/aeronet-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func derivedRow(t *testing.T) map[string]any {
	t.Helper()
	tbl := domain.NewTable()
	require.NoError(t, tbl.AddText(domain.SiteColumn, []string{"Lille"}))
	require.NoError(t, tbl.AddText(domain.TimestampColumn, []string{"2020-06-28 10:15:00"}))
	require.NoError(t, tbl.AddFloat("AOD_532nm", []float64{0.21}))
	require.NoError(t, tbl.AddFloat("LR_355nm", []float64{math.NaN()}))
	return tbl.Row(0)
}

func TestSerializeRow(t *testing.T) {
	msg, err := serializeRow("run-1", derivedRow(t))
	require.NoError(t, err)

	assert.Equal(t, []byte("Lille|2020-06-28 10:15:00"), msg.Key)
	assert.JSONEq(t, `{
		"AERONET_Site": "Lille",
		"timestamp": "2020-06-28 10:15:00",
		"AOD_532nm": 0.21,
		"LR_355nm": null
	}`, string(msg.Value))

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "run_id", msg.Headers[0].Key)
	assert.Equal(t, []byte("run-1"), msg.Headers[0].Value)
	assert.Equal(t, "site", msg.Headers[1].Key)
	assert.Equal(t, []byte("Lille"), msg.Headers[1].Value)
}

func TestSerializeRow_MissingIdentifiers(t *testing.T) {
	msg, err := serializeRow("run-1", map[string]any{"AOD_532nm": 0.3})
	require.NoError(t, err)

	assert.Equal(t, []byte("|"), msg.Key)
	var body map[string]float64
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.InDelta(t, 0.3, body["AOD_532nm"], 1e-12)
}
