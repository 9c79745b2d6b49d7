package uds

import "fmt"

// NegativeResponseError is a 0x7F reply from an ECU
type NegativeResponseError struct {
	Service byte
	Code    byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("%s(0x%02X) rejected: %s(0x%02X)", TranslateService(e.Service), e.Service, TranslateErrorCode(e.Code), e.Code)
}

// Pending reports if the ECU asked for more time, the real answer follows
func (e *NegativeResponseError) Pending() bool {
	return e.Code == 0x78
}

func TranslateService(p byte) string {
	switch p {
	case 0x10:
		return "DiagnosticSessionControl"
	case 0x11:
		return "ECUReset"
	case 0x14:
		return "ClearDiagnosticInformation"
	case 0x19:
		return "ReadDTCInformation"
	case 0x22:
		return "ReadDataByIdentifier"
	case 0x23:
		return "ReadMemoryByAddress"
	case 0x27:
		return "SecurityAccess"
	case 0x2E:
		return "WriteDataByIdentifier"
	case 0x31:
		return "RoutineControl"
	case 0x3E:
		return "TesterPresent"
	default:
		return "Unknown"
	}
}

func TranslateErrorCode(p byte) string {
	switch p {
	case 0x10:
		return "General reject"
	case 0x11:
		return "Service not supported"
	case 0x12:
		return "SubFunction not supported"
	case 0x13:
		return "Incorrect message length or invalid format"
	case 0x14:
		return "Response too long"
	case 0x21:
		return "Busy, repeat request"
	case 0x22:
		return "Conditions not correct"
	case 0x24:
		return "Request sequence error"
	case 0x25:
		return "No response from subnet component"
	case 0x26:
		return "Failure prevents execution of requested action"
	case 0x31:
		return "Request out of range"
	case 0x33:
		return "Security access denied"
	case 0x35:
		return "Invalid key"
	case 0x36:
		return "Exceeded number of attempts"
	case 0x37:
		return "Required time delay not expired"
	case 0x72:
		return "General programming failure"
	case 0x78:
		return "Response pending"
	case 0x7E:
		return "SubFunction not supported in active session"
	case 0x7F:
		return "Service not supported in active session"
	case 0x83:
		return "Engine is running"
	case 0x88:
		return "Vehicle speed too high"
	case 0x92:
		return "Voltage too high"
	case 0x93:
		return "Voltage too low"
	}
	return "Unknown error"
}
