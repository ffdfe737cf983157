package synth

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/profile"
)

func TestGenerate(t *testing.T) {
	opts := DefaultOptions()
	opts.Entries = 600

	a := Generate(opts)
	b := Generate(opts)
	require.Len(t, a, 600)
	assert.Equal(t, a, b, "same seed must give the same history")

	var fraud int
	for i := range a {
		require.NotNil(t, a[i].Fraud)
		fraud += a[i].Label()
		if a[i].Label() == 1 {
			assert.Less(t, a[i].Timestamp.Hour(), 6)
			assert.Less(t, a[i].Amount, 0.0)
		}
	}
	assert.Greater(t, fraud, 5)
	assert.Less(t, fraud, 80)

	opts.Seed = 7
	assert.NotEqual(t, a, Generate(opts))
}

func TestWriteCSVReadsBack(t *testing.T) {
	opts := DefaultOptions()
	opts.Entries = 50
	txs := Generate(opts)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, txs))

	back, err := profile.ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, back, len(txs))
	for i := range txs {
		assert.True(t, txs[i].Timestamp.Equal(back[i].Timestamp))
		assert.Equal(t, txs[i].Location, back[i].Location)
		assert.InDelta(t, txs[i].Amount, back[i].Amount, 0.005)
		assert.Equal(t, txs[i].Label(), back[i].Label())
	}
}
