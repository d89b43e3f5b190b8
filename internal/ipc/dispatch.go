package ipc

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"multizone/internal/zone"
)

// Dispatch routes control messages to the controller. connectTimeout caps a
// connect including firmware provisioning.
func Dispatch(ctrl *zone.Controller, connectTimeout time.Duration) Handler {
	return func(msg ControlMessage) Reply {
		if err := apply(ctrl, msg, connectTimeout); err != nil {
			log.Warn("Command failed", "cmd", msg.Cmd, "err", err)
			snap := ctrl.Snapshot()
			return Reply{Error: err.Error(), Status: &snap}
		}

		snap := ctrl.Snapshot()
		return Reply{OK: true, Status: &snap}
	}
}

func apply(ctrl *zone.Controller, msg ControlMessage, connectTimeout time.Duration) error {
	switch msg.Cmd {
	case CmdStatus:
		return nil

	case CmdConnect:
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return ctrl.Connect(ctx, msg.Port)

	case CmdDisconnect:
		ctrl.Disconnect()
		return nil

	case CmdZone:
		z, err := zone.Parse(msg.Zone)
		if err != nil {
			return err
		}
		return ctrl.ToggleActive(z)

	case CmdProcessing:
		_, err := ctrl.ToggleProcessing()
		return err

	default:
		return fmt.Errorf("unknown command %q", msg.Cmd)
	}
}
