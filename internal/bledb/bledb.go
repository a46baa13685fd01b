// Package bledb provides UUID normalization and known-name lookup for
// Bluetooth SIG assigned numbers. The name table is a curated subset of the
// SIG registry covering the services commonly seen during discovery.
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb) in normalized form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format: lowercase, no
// dashes, no 0x prefix. Full 128-bit UUIDs in the SIG base format are
// collapsed to their 16-bit short form (e.g.
// "0000180d-0000-1000-8000-00805f9b34fb" -> "180d").
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	u = strings.TrimPrefix(u, "0x")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	normalized := make([]string, len(uuids))
	for i, uuid := range uuids {
		normalized[i] = NormalizeUUID(uuid)
	}
	return normalized
}

// knownServices maps normalized 16-bit service UUIDs to their SIG names.
var knownServices = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1802": "Immediate Alert",
	"1803": "Link Loss",
	"1804": "Tx Power",
	"1805": "Current Time",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery",
	"1810": "Blood Pressure",
	"1811": "Alert Notification",
	"1812": "Human Interface Device",
	"1813": "Scan Parameters",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"1819": "Location and Navigation",
	"181a": "Environmental Sensing",
	"181b": "Body Composition",
	"181c": "User Data",
	"181d": "Weight Scale",
	"1826": "Fitness Machine",
	"fe59": "Nordic Secure DFU",
}

// LookupService returns the known SIG name for a service UUID, or "" when
// the UUID is vendor-specific or unknown. The argument may be in any
// accepted UUID format.
func LookupService(uuid string) string {
	return knownServices[NormalizeUUID(uuid)]
}
