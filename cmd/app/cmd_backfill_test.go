package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInputs(t *testing.T) {
	in := `# seed
{"date":"2025-01-02","syi":"0.05","tbill_3m":"0.04"}

{"date":"2025-01-01","syi":0.051,"tbill_3m":0.04,"peg_status":{"max_depeg_bps":5,"agg_depeg_bps":9}}
`
	reqs, err := readInputs(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "2025-01-02", reqs[0].Date)
	assert.Equal(t, "0.051", reqs[1].SYI.String())
	require.NotNil(t, reqs[1].PegStatus)
	assert.Equal(t, uint(9), reqs[1].PegStatus.AggDepegBps)

	_, err = readInputs(strings.NewReader("{broken\n"))
	assert.ErrorContains(t, err, "line 1")
}
