// Package domain models the location attached to a content item and the rules
// that keep it in step with a forward geocoder.
//
// # Freshness
//
// A LocationRecord remembers the address it was last looked up with. The
// record is stale when the current address differs from that value, or when no
// lookup was ever attempted. Freshness is a two-field comparison, not a
// time-based cache:
//
//	address "A", looked up "A"   fresh
//	address "B", looked up "A"   stale
//	address "A", never looked up stale
//
// Coordinator.Resolve only talks to the geocoder for stale records, and it
// records the attempted address before the request is sent, so a repeated
// resolve for an unchanged address never issues a second lookup.
//
// # Status taxonomy
//
// Status codes are persisted integers:
//
//	   0 N/A                     -1 UNKNOWN
//	   1 OK                      -2 ZERO_RESULTS
//	   2 OK_ROOFTOP              -3 OVER_QUERY_LIMIT
//	   3 OK_RANGE_INTERPOLATED   -4 REQUEST_DENIED
//	   4 OK_GEOMETRIC_CENTER     -5 INVALID_REQUEST
//	   5 OK_APPROXIMATE        -100 Geocode OFF
//
// Any other integer read from storage is coerced to UNKNOWN. Data written with
// the older three-entry taxonomy (-1 N/A, 1 OK, -100 off) is converted once with
// [MigrateLegacyStatus].
//
// # Field normalization
//
// Every write goes through LocationRecord.Set, which dispatches on a table of
// per-field normalizers:
//
//	lat, lng  comma decimal separator accepted ("45,1234" -> 45.1234);
//	          anything non-numeric clears the field
//	address   markup and control characters stripped, see [SanitizeText]
//	zoom      integer, values below 1 become 9
//	status    integer, unknown codes become -1
//	provider  stored verbatim
package domain
