package upnp

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func renderingControl(t *testing.T) *Service {
	t.Helper()
	device := newTestDevice(t, newFakeRequester(t))
	svc := device.Service(ServiceTypeRenderingControl)
	require.NotNil(t, svc)
	return svc
}

func TestStateVariable_SetValueVolume(t *testing.T) {
	sv := renderingControl(t).StateVariable("Volume")
	require.NotNil(t, sv)
	require.Nil(t, sv.Value())

	require.NoError(t, sv.SetValue(10))
	require.Equal(t, 10, sv.Value())
	require.Equal(t, "10", sv.WireValue())

	require.NoError(t, sv.SetWireValue("20"))
	require.Equal(t, 20, sv.Value())
	require.Equal(t, "20", sv.WireValue())
}

func TestStateVariable_BooleanRoundTrip(t *testing.T) {
	sv := renderingControl(t).StateVariable("Mute")
	require.NotNil(t, sv)

	for _, b := range []bool{true, false} {
		wire, err := sv.CoerceWire(b)
		require.NoError(t, err)
		native, err := sv.CoerceNative(wire)
		require.NoError(t, err)
		require.Equal(t, b, native)
	}

	require.NoError(t, sv.SetWireValue("1"))
	require.Equal(t, true, sv.Value())
	require.Equal(t, "1", sv.WireValue())

	require.NoError(t, sv.SetWireValue("0"))
	require.Equal(t, false, sv.Value())
	require.Equal(t, "0", sv.WireValue())
}

func TestStateVariable_BooleanRejectsWords(t *testing.T) {
	sv := renderingControl(t).StateVariable("Mute")
	require.NoError(t, sv.SetValue(true))

	for _, wire := range []string{"true", "false", "yes", ""} {
		err := sv.SetWireValue(wire)
		var coercion *CoercionError
		require.True(t, errors.As(err, &coercion), "wire %q", wire)
	}
	require.Equal(t, true, sv.Value())
}

func TestStateVariable_Range(t *testing.T) {
	sv := renderingControl(t).StateVariable("Volume")

	lo, ok := sv.Min()
	require.True(t, ok)
	require.Equal(t, 0, lo)
	hi, ok := sv.Max()
	require.True(t, ok)
	require.Equal(t, 100, hi)
	require.Equal(t, 1, sv.Step())

	for v := -5; v <= 105; v++ {
		err := sv.Validate(v)
		if v >= 0 && v <= 100 {
			require.NoError(t, err, "value %d", v)
			continue
		}
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "value %d", v)
		require.Equal(t, "range", verr.Rule)
		require.Equal(t, v, verr.Value)
	}
}

func TestStateVariable_RejectedSetKeepsValueAndTimestamp(t *testing.T) {
	sv := renderingControl(t).StateVariable("Volume")

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := now
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = prev })

	require.NoError(t, sv.SetValue(30))
	require.Equal(t, fixed, sv.UpdatedAt())

	now = func() time.Time { return fixed.Add(time.Hour) }
	require.Error(t, sv.SetValue(110))
	require.Error(t, sv.SetValue(-10))
	require.Error(t, sv.SetValue("30"))

	require.Equal(t, 30, sv.Value())
	require.Equal(t, fixed, sv.UpdatedAt())
}

func TestStateVariable_AllowedValues(t *testing.T) {
	sv := renderingControl(t).StateVariable("A_ARG_TYPE_Channel")
	require.Equal(t, []string{"Master"}, sv.AllowedValues())

	require.NoError(t, sv.SetValue("Master"))
	require.Equal(t, "Master", sv.Value())

	err := sv.SetValue("Left")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "enum", verr.Rule)
	require.Equal(t, "Master", sv.Value())
}

func TestStateVariable_TypeRuleFirst(t *testing.T) {
	sv := renderingControl(t).StateVariable("A_ARG_TYPE_Channel")

	err := sv.Validate(7)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "type", verr.Rule)
}

func TestStateVariable_NormalizesIntegerKinds(t *testing.T) {
	sv := renderingControl(t).StateVariable("Volume")

	require.NoError(t, sv.SetValue(int64(40)))
	require.Equal(t, 40, sv.Value())
	require.NoError(t, sv.SetValue(uint8(41)))
	require.Equal(t, 41, sv.Value())
}

func TestStateVariable_DefaultIsNotCurrentValue(t *testing.T) {
	sv := renderingControl(t).StateVariable("A_ARG_TYPE_InstanceID")
	require.Equal(t, 0, sv.Default())
	require.Nil(t, sv.Value())
	require.True(t, sv.UpdatedAt().IsZero())
}

func TestStateVariable_CoercionVersusValidation(t *testing.T) {
	sv := renderingControl(t).StateVariable("Volume")

	err := sv.SetWireValue("loud")
	var coercion *CoercionError
	require.True(t, errors.As(err, &coercion))

	err = sv.SetWireValue("101")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.False(t, errors.As(err, &coercion))
}

func TestNewStateVariable_BadDefault(t *testing.T) {
	_, err := NewStateVariable("Broken", true, TypeInfo{
		DataType:   DataTypeInteger,
		UPnPType:   "ui4",
		Default:    "zero",
		HasDefault: true,
	})
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
}
