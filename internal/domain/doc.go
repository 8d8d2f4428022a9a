// Package domain models radiosonde telemetry and the alert rules evaluated
// against it.
//
// # Data Source
//
// Telemetry originates from the SondeHub amateur radiosonde tracking network
// (https://sondehub.org). Records arrive either from the SondeHub HTTP API
// (periodic snapshot of the latest frame per serial), from a Kafka topic fed
// by an upstream collector, or from the service's own ingest endpoint. All
// three carry the same flat JSON shape, see [SondeRecord].
//
// # SondeHub Conventions
//
// Identity:
//
//	"serial" is the radiosonde serial number, e.g. "S1234567" (Vaisala RS41)
//	or "DFM-20123456". It is stable for the whole flight and is the object
//	identifier used for de-duplication.
//
// Units:
//
//	alt     metres above mean sea level. Converted once to feet at ingestion.
//	vel_v   vertical velocity in m/s; negative while descending under the
//	        parachute, positive while ascending on the balloon.
//	datetime  RFC 3339 UTC timestamp of the frame as decoded by the receiver.
//
// Missing vertical velocity:
//
//	Some decoders do not report vel_v. The climb rate is then derived from
//	the previous frame of the same serial (altitude delta over time delta);
//	the first frame of a flight has no climb rate at all.
//
// # Alert Rules
//
// A [Criterion] bounds the distance from the configured [Location] (statute
// miles), the altitude (feet) and the climb rate (m/s). Unset bounds impose no
// constraint and every set bound is inclusive.
package domain
