package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAmountJSONRoundTrip(t *testing.T) {
	a := Amount(1_000_000)

	data, err := json.Marshal(a)
	require.NoError(t, err)
	require.Equal(t, `"1000000"`, string(data))

	var out Amount
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, a, out)
}

func TestAmountUnmarshalBareNumber(t *testing.T) {
	var out Amount
	require.NoError(t, json.Unmarshal([]byte(`1500`), &out))
	require.Equal(t, Amount(1500), out)
}

func TestAmountSubFloorsAtZero(t *testing.T) {
	require.Equal(t, Amount(0), Amount(5).Sub(Amount(10)))
	require.Equal(t, Amount(5), Amount(10).Sub(Amount(5)))
}

func TestAmountScan(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan(int64(42)))
	require.Equal(t, Amount(42), a)

	require.NoError(t, a.Scan(nil))
	require.Equal(t, Amount(0), a)

	require.NoError(t, a.Scan("99"))
	require.Equal(t, Amount(99), a)

	require.Error(t, a.Scan(int64(-1)))
}
