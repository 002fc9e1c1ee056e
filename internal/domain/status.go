package domain

import (
	"strconv"
	"strings"
)

// StatusCode classifies the outcome of the last geocode attempt.
// The integer values are persisted and must never be renumbered.
type StatusCode int

const (
	StatusNotGeocoded         StatusCode = 0
	StatusOK                  StatusCode = 1
	StatusOKRooftop           StatusCode = 2
	StatusOKRangeInterpolated StatusCode = 3
	StatusOKGeometricCenter   StatusCode = 4
	StatusOKApproximate       StatusCode = 5

	StatusUnknown         StatusCode = -1
	StatusZeroResults     StatusCode = -2
	StatusOverQueryLimit  StatusCode = -3
	StatusRequestDenied   StatusCode = -4
	StatusInvalidRequest  StatusCode = -5
	StatusGeocodeDisabled StatusCode = -100
)

var statusNames = map[StatusCode]string{
	StatusNotGeocoded:         "N/A",
	StatusOK:                  "OK",
	StatusOKRooftop:           "OK_ROOFTOP",
	StatusOKRangeInterpolated: "OK_RANGE_INTERPOLATED",
	StatusOKGeometricCenter:   "OK_GEOMETRIC_CENTER",
	StatusOKApproximate:       "OK_APPROXIMATE",
	StatusUnknown:             "UNKNOWN",
	StatusZeroResults:         "ZERO_RESULTS",
	StatusOverQueryLimit:      "OVER_QUERY_LIMIT",
	StatusRequestDenied:       "REQUEST_DENIED",
	StatusInvalidRequest:      "INVALID_REQUEST",
	StatusGeocodeDisabled:     "Geocode OFF",
}

// CoerceStatus maps an arbitrary integer onto the taxonomy. Codes outside the
// table become StatusUnknown so records written by newer versions still load.
func CoerceStatus(code int) StatusCode {
	s := StatusCode(code)
	if _, ok := statusNames[s]; !ok {
		return StatusUnknown
	}
	return s
}

// Known reports whether s is a taxonomy key.
func (s StatusCode) Known() bool {
	_, ok := statusNames[s]
	return ok
}

// Name returns the raw taxonomy name, e.g. "OK_ROOFTOP".
func (s StatusCode) Name() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return statusNames[StatusUnknown]
}

// Label is the human-readable form of Name with underscores rendered as spaces.
func (s StatusCode) Label() string {
	return strings.ReplaceAll(s.Name(), "_", " ")
}

func (s StatusCode) String() string {
	return s.Label() + " (" + strconv.Itoa(int(s)) + ")"
}

// IsOK reports whether s is one of the successful codes (1 through 5).
func (s StatusCode) IsOK() bool {
	return s >= StatusOK && s <= StatusOKApproximate
}

// StatusFromProvider maps a provider status string and optional location type
// (Google-style, e.g. "OK" + "ROOFTOP") onto the taxonomy. An OK status with an
// unrecognized location type is plain StatusOK.
func StatusFromProvider(status, locationType string) StatusCode {
	status = strings.ToUpper(strings.TrimSpace(status))
	locationType = strings.ToUpper(strings.TrimSpace(locationType))

	switch status {
	case "OK", "":
		if locationType == "" {
			return StatusOK
		}
		for code, name := range statusNames {
			if code.IsOK() && name == "OK_"+locationType {
				return code
			}
		}
		return StatusOK
	case "ZERO_RESULTS":
		return StatusZeroResults
	case "OVER_QUERY_LIMIT":
		return StatusOverQueryLimit
	case "REQUEST_DENIED":
		return StatusRequestDenied
	case "INVALID_REQUEST":
		return StatusInvalidRequest
	default:
		return StatusUnknown
	}
}

// MigrateLegacyStatus converts a code written with the legacy three-entry
// taxonomy (-1 N/A, 1 OK, -100 off) into the canonical one. Legacy -1 meant
// "nothing usable", which is StatusNotGeocoded now, so the record is looked up
// again on the next resolve.
func MigrateLegacyStatus(code int) StatusCode {
	switch code {
	case -1:
		return StatusNotGeocoded
	case 0, 1, -100:
		return StatusCode(code)
	default:
		return StatusUnknown
	}
}
