package sdcard

import "fmt"

// Errors returned by the driver. Wrapped errors carry the failing command;
// test for the class with errors.Is.
type Error int

const (
	ErrTimeout          Error = 1
	ErrCommandRejected  Error = 2
	ErrDataResponse     Error = 3
	ErrInitFailed       Error = 4
	ErrRegisterRead     Error = 5
	ErrNotInitialized   Error = 6
	ErrInvalidParameter Error = 7
)

func (e Error) Error() string {
	return fmt.Sprintf("sdcard: %v", e.name())
}

func (e Error) name() string {
	switch e {
	case ErrTimeout:
		return "timed out waiting for card"
	case ErrCommandRejected:
		return "command rejected by card"
	case ErrDataResponse:
		return "data packet not accepted"
	case ErrInitFailed:
		return "card initialization failed"
	case ErrRegisterRead:
		return "unable to read card register"
	case ErrNotInitialized:
		return "card not initialized"
	case ErrInvalidParameter:
		return "invalid parameter"
	default:
		return fmt.Sprintf("unknown error code: %v", int(e))
	}
}

// CommandError is returned when the card answers a command with error bits
// set in its R1 response.
type CommandError struct {
	Cmd byte
	App bool
	R1  R1
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("sdcard: %v rejected: %v", CommandName(e.Cmd, e.App), e.R1)
}

func (e *CommandError) Unwrap() error {
	return ErrCommandRejected
}

// DataResponseError carries the data-response byte of a refused write packet.
type DataResponseError struct {
	Response byte
}

func (e *DataResponseError) Error() string {
	var reason string
	switch e.Response & DATA_RESPONSE_MASK {
	case DATA_CRC_ERROR:
		reason = "crc error"
	case DATA_WRITE_ERROR:
		reason = "write error"
	default:
		reason = "malformed response"
	}
	return fmt.Sprintf("sdcard: data response 0x%02x: %v", e.Response, reason)
}

func (e *DataResponseError) Unwrap() error {
	return ErrDataResponse
}
