package server

import (
	"errors"

	"github.com/strefethen/upnp-control-go/internal/apperrors"
	"github.com/strefethen/upnp-control-go/internal/controlpoint"
	"github.com/strefethen/upnp-control-go/internal/upnp"
)

// mapError converts control point and UPnP errors into API errors.
func mapError(err error) error {
	var (
		validationErr *upnp.ValidationError
		coercionErr   *upnp.CoercionError
		missingErr    *upnp.MissingArgumentError
		faultErr      *upnp.ActionFaultError
		callErr       *upnp.ActionCallError
		fetchErr      *upnp.FetchError
		parseErr      *upnp.ParseError
		appErr        *apperrors.AppError
	)

	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, controlpoint.ErrUnknownDevice):
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceNotFound, err.Error(), 404, nil)
	case errors.Is(err, controlpoint.ErrNotConnected):
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceOffline, err.Error(), 409, nil)
	case errors.Is(err, controlpoint.ErrServiceNotAvailable):
		return apperrors.NewAppError(apperrors.ErrorCodeServiceNotAvailable, err.Error(), 404, nil)
	case errors.Is(err, controlpoint.ErrActionNotAvailable), errors.Is(err, upnp.ErrUnknownAction):
		return apperrors.NewAppError(apperrors.ErrorCodeActionNotAvailable, err.Error(), 404, nil)
	case errors.Is(err, controlpoint.ErrStateVariableNotAvailable):
		return apperrors.NewAppError(apperrors.ErrorCodeVariableNotAvailable, err.Error(), 404, nil)
	case errors.As(err, &validationErr):
		return apperrors.NewValidationError(err.Error(), map[string]any{
			"state_variable": validationErr.StateVariable,
			"rule":           validationErr.Rule,
		})
	case errors.As(err, &coercionErr):
		return apperrors.NewValidationError(err.Error(), map[string]any{
			"state_variable": coercionErr.StateVariable,
			"data_type":      coercionErr.DataType,
		})
	case errors.As(err, &missingErr):
		return apperrors.NewValidationError(err.Error(), map[string]any{"argument": missingErr.Argument})
	case errors.As(err, &faultErr):
		return apperrors.NewDeviceError(apperrors.ErrorCodeUPnPFault, err.Error(), map[string]any{
			"upnp_error_code":        faultErr.Code,
			"upnp_error_description": faultErr.Description,
		})
	case errors.As(err, &callErr):
		if callErr.Timeout() {
			return apperrors.NewDeviceTimeoutError(err.Error(), nil)
		}
		return apperrors.NewDeviceError(apperrors.ErrorCodeUPnPUnreachable, err.Error(), nil)
	case errors.As(err, &fetchErr):
		if fetchErr.Timeout() {
			return apperrors.NewDeviceTimeoutError(err.Error(), nil)
		}
		return apperrors.NewDeviceError(apperrors.ErrorCodeUPnPUnreachable, err.Error(), nil)
	case errors.As(err, &parseErr):
		return apperrors.NewDeviceError(apperrors.ErrorCodeUPnPBadResponse, err.Error(), nil)
	default:
		return err
	}
}
