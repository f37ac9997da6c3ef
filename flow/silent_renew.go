// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/cap-rp/storage"
)

// silentRenewStateRunning is the only state ever written. An empty record
// means no renewal is running.
const silentRenewStateRunning = "running"

// launchTimeFormat matches ECMAScript's Date.prototype.toISOString, which
// other relying parties sharing the storage origin write.
const launchTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// silentRenewStatus is the persisted silent renew record. Field order is
// part of the stored format.
type silentRenewStatus struct {
	State                    string `json:"state"`
	DateOfLaunchedProcessUTC string `json:"dateOfLaunchedProcessUtc"`
}

// IsSilentRenewRunning reports whether a silent renewal is in flight. A
// record older than the configured SilentRenewTimeout belongs to a crashed or
// abandoned renewal: it's cleared and the renewal is reported as not
// running.
//
// The read and the clear aren't locked. Other tabs may share the storage and
// the timeout is the only recovery mechanism across them.
func (s *Store) IsSilentRenewRunning(ctx context.Context) (bool, error) {
	const op = "Store.IsSilentRenewRunning"
	raw, err := s.read(ctx, storage.KeySilentRenewRunning)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if raw == "" {
		return false, nil
	}

	var status silentRenewStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		s.logger.Warn("silent renew record is unreadable, resetting it", "error", err)
		return false, s.resetSilentRenew(ctx, op)
	}
	launched, err := time.Parse(time.RFC3339Nano, status.DateOfLaunchedProcessUTC)
	if err != nil {
		s.logger.Warn("silent renew launch time is unreadable, resetting it", "launched", status.DateOfLaunchedProcessUTC, "error", err)
		return false, s.resetSilentRenew(ctx, op)
	}

	elapsed := s.clock.Since(launched)
	if elapsed > s.config.SilentRenewTimeout {
		s.logger.Debug("silent renew process is older than the timeout, resetting it", "elapsed", elapsed, "timeout", s.config.SilentRenewTimeout)
		return false, s.resetSilentRenew(ctx, op)
	}
	return status.State == silentRenewStateRunning, nil
}

// SetSilentRenewRunning records that a silent renewal was launched now,
// overwriting any prior record.
func (s *Store) SetSilentRenewRunning(ctx context.Context) error {
	const op = "Store.SetSilentRenewRunning"
	raw, err := json.Marshal(silentRenewStatus{
		State:                    silentRenewStateRunning,
		DateOfLaunchedProcessUTC: s.clock.Now().UTC().Format(launchTimeFormat),
	})
	if err != nil {
		return fmt.Errorf("%s: unable to encode silent renew record: %w", op, err)
	}
	if err := s.write(ctx, storage.KeySilentRenewRunning, string(raw)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ResetSilentRenewRunning marks silent renewal as not running, whatever the
// prior record was.
func (s *Store) ResetSilentRenewRunning(ctx context.Context) error {
	const op = "Store.ResetSilentRenewRunning"
	return s.resetSilentRenew(ctx, op)
}

func (s *Store) resetSilentRenew(ctx context.Context, op string) error {
	if err := s.write(ctx, storage.KeySilentRenewRunning, ""); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
