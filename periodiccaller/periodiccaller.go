/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

// Package periodiccaller allows periodic calls of functions.
package periodiccaller // import "github.com/pcpstat/pmsample/periodiccaller"

import (
	"context"
	"time"
)

// Run calls <callback> immediately and then every <interval> on the calling
// goroutine until <callback> returns false or <ctx> is canceled. A
// non-positive <interval> calls <callback> back to back, which is used to
// replay recordings as fast as possible.
func Run(ctx context.Context, interval time.Duration, callback func() bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !callback() {
		return nil
	}

	if interval <= 0 {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !callback() {
				return nil
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ctx.Err(); err != nil {
				return err
			}
			if !callback() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
