package emeter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVoltageNativeWins(t *testing.T) {
	s := Status{"voltage": 220.5, "voltage_mv": 999999.0}
	v, err := s.Lookup("voltage")
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, 220.5, *v)
}

func TestVoltageDerivesFromMilli(t *testing.T) {
	s := Status{"voltage_mv": 220500.0}
	v, err := s.Lookup("voltage")
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, 220.5, *v)
}

func TestVoltageMVDerivesFromNative(t *testing.T) {
	s := Status{"voltage": 220.5}
	v, err := s.Lookup("voltage_mv")
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, 220500.0, *v)
}

func TestVoltageMVNativeWins(t *testing.T) {
	s := Status{"voltage_mv": 220500.0, "voltage": 1.0}
	v, err := s.Lookup("voltage_mv")
	require.NoError(t, err)
	require.Equal(t, 220500.0, *v)
}

func TestMissingFieldIsNilNotError(t *testing.T) {
	s := Status{"current_ma": 500.0}
	v, err := s.Lookup("total")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestUnknownKeyIsError(t *testing.T) {
	s := Status{"voltage": 220.0}
	_, err := s.Lookup("frequency")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownKey))
}

func TestAccessorsMatchLookup(t *testing.T) {
	s := Status{"power_mw": 15000.0, "total_wh": 2500.0}
	require.Equal(t, 15.0, *s.Power())
	require.Equal(t, 15000.0, *s.PowerMW())
	require.Equal(t, 2.5, *s.Total())
	require.Equal(t, 2500.0, *s.TotalWH())
	require.Nil(t, s.Voltage())
	require.Nil(t, s.CurrentMA())
}
