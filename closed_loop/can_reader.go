package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.einride.tech/can"

	"twinthrust/utils"
)

// TargetCommand is a target received over the bus.
type TargetCommand struct {
	Target utils.Target
	ID     uint32
}

// decodeTargetFrame returns the target carried by a TARGET_CMD frame. ok is
// false for any other frame id.
func decodeTargetFrame(cmap *utils.CANMap, f can.Frame) (t utils.Target, ok bool, err error) {
	fd, err := cmap.FrameByName(utils.FrameTargetCmd)
	if err != nil {
		return utils.Target{}, false, err
	}
	if f.ID != fd.ID {
		return utils.Target{}, false, nil
	}

	_, values, err := cmap.DecodeEinrideFrame(f)
	if err != nil {
		return utils.Target{}, true, err
	}
	t = utils.Target{X: values["target_x_m"], Y: values["target_y_m"]}
	if err := utils.CheckTarget(t); err != nil {
		return t, true, fmt.Errorf("frame 0x%X: %w", f.ID, err)
	}
	return t, true, nil
}

// receiveLoop reads frames until ctx ends or the reader fails, forwarding
// decoded targets. Only read timeouts are retried.
func (r *Runner) receiveLoop(ctx context.Context, targets chan<- TargetCommand) {
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")

	for {
		frame, err := r.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() && !errors.Is(err, net.ErrClosed) {
				r.log.Debug("RX timeout: %v", err)
				continue
			}
			r.log.Error("RX error, stopping: %v", err)
			return
		}
		r.log.Trace("RX id=0x%X len=%d data=% X", frame.ID, frame.Length, frame.Data[:frame.Length])

		t, ok, err := decodeTargetFrame(r.cmap, frame)
		if !ok {
			continue
		}
		if err != nil {
			r.log.Warn("RX %v, not loading target", err)
			continue
		}

		select {
		case targets <- TargetCommand{Target: t, ID: frame.ID}:
		case <-ctx.Done():
			return
		}
	}
}
