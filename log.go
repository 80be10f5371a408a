// SPDX-License-Identifier: MIT

package evtxgo

import "github.com/pion/logging"

// defaultLogger returns a LeveledLogger that discards everything below
// Error, so library consumers get silence unless they opt in via
// Config.Logger. Mirrors the teacher's use of an injectable
// logging.LoggerFactory (association.go's AssociationConfig.LoggerFactory)
// rather than a package-level logger.
func defaultLogger() logging.LeveledLogger {
	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = logging.LogLevelError
	return factory.NewLogger("evtxgo")
}
