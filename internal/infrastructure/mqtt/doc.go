// Package mqtt provides MQTT connectivity for scanlink.
//
// scanlink publishes its events (discovery snapshots, pairing state, scan
// results, scanner device state) to a broker so other processes on the
// host network can follow the scanner without talking to the HTTP API.
// It also listens on command topics that mirror the API operations.
//
//	scanlink/<node>/status            retained online/offline, also the LWT
//	scanlink/<node>/event/<type>      one message per event
//	scanlink/<node>/command/<op>      operation requests
//
// The client reconnects automatically and restores subscriptions. Handler
// panics are recovered and logged.
package mqtt
