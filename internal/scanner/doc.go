// Package scanner holds the persisted state of the paired barcode scanner.
//
// Store is the single-slot "last paired scanner" contract used by the
// capture session manager. SQLiteRepository implements it over the
// paired_scanner table; MemoryStore is used when persistence is disabled.
//
// ScanLog keeps a bounded history of decoded scans in scan_log for the
// host API.
package scanner
