// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information.
package vc // import "github.com/pcpstat/pmsample/vc"

import "fmt"

var (
	// The following variables are going to be set at link time using ldflags
	// and can be referenced later in the program.

	// revision of the service
	revision = ""
	// buildTimestamp, timestamp of the build
	buildTimestamp = ""
	// version in vX.Y.Z{-N-abbrev} format (via git-describe --tags)
	version = "v0.0.0-dev"
)

// Revision of the build.
func Revision() string {
	return revision
}

// BuildTimestamp returns the timestamp of the build.
func BuildTimestamp() string {
	return buildTimestamp
}

// Version in vX.Y.Z{-N-abbrev} format.
func Version() string {
	return version
}

// Summary is the one-line description printed by `pmsample version`.
func Summary() string {
	s := "pmsample " + version
	if revision != "" {
		s += fmt.Sprintf(" (revision %s", revision)
		if buildTimestamp != "" {
			s += ", built " + buildTimestamp
		}
		s += ")"
	}
	return s
}
