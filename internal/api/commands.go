package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/scanlink/internal/bluetooth"
)

// Command operations accepted over MQTT. Each mirrors an HTTP route.
const (
	CmdDiscoveryStart     = "discovery_start"
	CmdDiscoveryStop      = "discovery_stop"
	CmdDiscoveryClear     = "discovery_clear"
	CmdDiscoveryFilter    = "discovery_filter"
	CmdPair               = "pair"
	CmdPairingStop        = "pairing_stop"
	CmdSessionStart       = "session_start"
	CmdSessionStop        = "session_stop"
	CmdBeepGood           = "beep_good"
	CmdBeepBad            = "beep_bad"
	CmdScannerName        = "scanner_name"
	CmdScannerForget      = "scanner_forget"
	CmdScannerForgetSaved = "scanner_forget_saved"
)

// ErrUnknownCommand is returned for an operation name HandleCommand does
// not recognise.
var ErrUnknownCommand = errors.New("unknown command")

// HandleCommand runs one operation requested over the message bus. The
// payload is the same JSON body the matching HTTP route takes and may be
// empty where the route takes none.
func (s *Server) HandleCommand(ctx context.Context, op string, payload []byte) error {
	switch op {
	case CmdDiscoveryStart:
		var req filterRequest
		if err := decodeOptionalPayload(payload, &req); err != nil {
			return err
		}
		return s.discovery.StartDiscovery(ctx, s.resolveFilter(req))
	case CmdDiscoveryStop:
		return s.discovery.StopDiscovery(ctx)
	case CmdDiscoveryClear:
		s.discovery.ClearCache()
		return nil
	case CmdDiscoveryFilter:
		var req filterRequest
		if err := decodeOptionalPayload(payload, &req); err != nil {
			return err
		}
		s.discovery.SetFilter(s.resolveFilter(req))
		return nil
	case CmdPair:
		var req pairRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("decoding %s payload: %w", op, err)
		}
		if !bluetooth.ValidAddress(req.Address) {
			return fmt.Errorf("invalid address %q", req.Address)
		}
		_, err := s.pairing.Pair(ctx, req.Address)
		return err
	case CmdPairingStop:
		s.pairing.StopPairing()
		return nil
	case CmdSessionStart:
		return s.capture.StartSession(ctx)
	case CmdSessionStop:
		return s.capture.StopSession(ctx)
	case CmdBeepGood:
		return s.capture.GoodBeep()
	case CmdBeepBad:
		return s.capture.BadBeep()
	case CmdScannerName:
		var req renameRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("decoding %s payload: %w", op, err)
		}
		return s.capture.UpdateScannerName(ctx, req.Name)
	case CmdScannerForget:
		return s.capture.ForgetScanner(ctx)
	case CmdScannerForgetSaved:
		return s.capture.ForgetSavedScanners(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, op)
	}
}

func decodeOptionalPayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}
